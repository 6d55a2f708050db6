package store

// Close allows pg-backed structs to be closed via Manager.Close's reflection
// helper; pgSearch/pgVector/pgGraph all share the one *pgxpool.Pool that
// NewManager opens (factory.go). cmd/ha-rag-bridge/main.go opens a separate
// pool for the C1 alias overlay and C8 cluster membership.
func (p *pgSearch) Close() { p.pool.Close() }
func (p *pgVector) Close() { p.pool.Close() }
func (p *pgGraph) Close()  { p.pool.Close() }

package domain

// Node roles advertised through membership.
const (
	RoleIngestor    = "ingestor"
	RoleStore       = "store"
	RoleCoordinator = "coordinator"
)

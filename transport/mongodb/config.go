package mongodb

// Config holds configuration for the MongoDB transport.
type Config struct {
	// URI is the MongoDB connection string.
	// Default: "mongodb://localhost:27017"
	URI string

	// Database holds one collection per storage class.
	// Default: "lattice"
	Database string

	// CollectionPrefix is prepended to the storage-class name.
	// Default: "" (collection name equals the class name)
	CollectionPrefix string

	// Transactions applies batches in a multi-document transaction. This
	// needs a replica set or sharded cluster; without it the transport
	// reports that it cannot run atomic batches.
	// Default: true
	Transactions bool
}

// DefaultConfig returns sensible defaults for a local replica set.
func DefaultConfig() Config {
	return Config{
		URI:          "mongodb://localhost:27017",
		Database:     "lattice",
		Transactions: true,
	}
}

// validate fills in defaults.
func (c *Config) validate() {
	if c.URI == "" {
		c.URI = "mongodb://localhost:27017"
	}
	if c.Database == "" {
		c.Database = "lattice"
	}
}

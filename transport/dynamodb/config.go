package dynamodb

// Config holds configuration for the DynamoDB transport.
type Config struct {
	// TablePrefix is prepended to the storage-class name to form the table
	// name. Tables use a string partition key named "_id".
	// Default: "lattice_"
	TablePrefix string

	// SoftDelete marks removed records with a TTL instead of deleting them.
	// DynamoDB's TTL process purges them later; loads ignore them at once.
	// Default: false
	SoftDelete bool

	// MaxItems is the largest batch accepted in one transaction.
	// Default: 100
	// Max: 100 (DynamoDB TransactWriteItems limit)
	MaxItems int

	// Region and Profile select the AWS configuration used by Open.
	// Empty values fall back to the SDK defaults.
	Region  string
	Profile string

	// Endpoint overrides the service endpoint, e.g., for DynamoDB Local.
	Endpoint string
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		TablePrefix: "lattice_",
		MaxItems:    maxTransactItems,
	}
}

// validate ensures config values are within acceptable bounds.
func (c *Config) validate() {
	if c.TablePrefix == "" {
		c.TablePrefix = "lattice_"
	}
	if c.MaxItems < 1 || c.MaxItems > maxTransactItems {
		c.MaxItems = maxTransactItems
	}
}

package sqldoc

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "pgx"
)

// Config holds configuration for the SQL document transport.
type Config struct {
	// Driver is the database/sql driver name: DriverSQLite or DriverPostgres.
	// Default: DriverSQLite
	Driver string

	// DSN is the data source name passed to the driver.
	// Default: "lattice.db" for SQLite, "postgres://localhost/lattice?sslmode=disable" for Postgres
	DSN string

	// Table is the name of the record table. A companion table named
	// Table+"_clusters" holds the per-cluster position counters.
	// Default: "lattice_records"
	Table string

	// Clusters is the number of clusters classes are spread over when
	// minting record ids.
	// Default: 1
	Clusters int
}

// DefaultConfig returns sensible defaults for an embedded SQLite database.
func DefaultConfig() Config {
	return Config{
		Driver:   DriverSQLite,
		DSN:      "lattice.db",
		Table:    "lattice_records",
		Clusters: 1,
	}
}

// validate fills in defaults.
func (c *Config) validate() {
	if c.Driver == "" {
		c.Driver = DriverSQLite
	}
	if c.DSN == "" {
		if c.Driver == DriverPostgres {
			c.DSN = "postgres://localhost/lattice?sslmode=disable"
		} else {
			c.DSN = "lattice.db"
		}
	}
	if c.Table == "" {
		c.Table = "lattice_records"
	}
	if c.Clusters < 1 {
		c.Clusters = 1
	}
}

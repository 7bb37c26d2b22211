package config_test

import (
	"fmt"
	"log"

	"github.com/ajitpratap0/pqshim/pkg/config"
)

// ExampleNewJobConfig demonstrates the defaults a job starts from.
func ExampleNewJobConfig() {
	cfg := config.NewJobConfig()

	fmt.Printf("Block Size: %d\n", cfg.Split.BlockSize)
	fmt.Printf("Row Group Rows: %d\n", cfg.Writer.RowGroupRows)
	fmt.Printf("Compression: %s\n", cfg.Writer.Compression)

	// Output:
	// Block Size: 134217728
	// Row Group Rows: 65536
	// Compression: snappy
}

// ExampleConfiguration_JobConfig shows how key/value settings become a typed view.
func ExampleConfiguration_JobConfig() {
	conf := config.New()
	conf.Set(config.KeyInputDir, "/data/in")
	conf.Set(config.KeyInputSuffixes, ".parquet, .pq")
	conf.Set(config.KeyBlockSize, "1048576")

	cfg, err := conf.JobConfig()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	fmt.Println(cfg.Input.Dir)
	fmt.Println(cfg.Input.Suffixes)
	fmt.Println(cfg.Split.BlockSize)

	// Output:
	// /data/in
	// [.parquet .pq]
	// 1048576
}

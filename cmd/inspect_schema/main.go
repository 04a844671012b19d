package main

import (
	"fmt"
	"log"

	"github.com/campusbridge/alumni-connect/internal/config"
	"github.com/campusbridge/alumni-connect/internal/database"
	"gorm.io/gorm"
)

// Prints the columns and indexes of every chat table as the database sees them,
// for comparing a live schema against the models after a migration.
func main() {
	config.LoadConfig()
	if err := database.Connect(); err != nil {
		log.Fatalf("Database unavailable: %v", err)
	}
	db := database.DB

	for _, model := range database.Models() {
		stmt := &gorm.Statement{DB: db}
		if err := stmt.Parse(model); err != nil {
			log.Fatalf("Parse %T: %v", model, err)
		}
		table := stmt.Schema.Table

		if !db.Migrator().HasTable(table) {
			fmt.Printf("%s: missing\n\n", table)
			continue
		}

		columns, err := db.Migrator().ColumnTypes(table)
		if err != nil {
			log.Fatalf("Columns of %s: %v", table, err)
		}
		fmt.Printf("%s\n", table)
		for _, col := range columns {
			nullable, _ := col.Nullable()
			fmt.Printf("  - %-20s %-12s null=%v\n", col.Name(), col.DatabaseTypeName(), nullable)
		}

		indexes, err := db.Migrator().GetIndexes(table)
		if err != nil {
			log.Printf("Indexes of %s: %v", table, err)
		}
		for _, idx := range indexes {
			unique, _ := idx.Unique()
			fmt.Printf("  * %-36s %v unique=%v\n", idx.Name(), idx.Columns(), unique)
		}
		fmt.Println()
	}
}

// Command xsim-results exposes recorded pair results over HTTP (POST /records, GET /aggregates, GET /health).
package main

import (
	"context"
	"database/sql"
	"flag"
	"log"
	"os"

	"github.com/klejdi94/xsim/results"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
)

func main() {
	addr := flag.String("addr", ":8080", "Listen address")
	storeKind := flag.String("store", "memory", "Store: memory, postgres, redis")
	maxRecords := flag.Int("max", 100000, "Max in-memory records when store=memory (0 = unbounded)")
	dsn := flag.String("dsn", "", "PostgreSQL DSN when store=postgres (or XSIM_RESULTS_DSN env)")
	redisAddr := flag.String("redis", "", "Redis address when store=redis (e.g. localhost:6379, or XSIM_RESULTS_REDIS env)")
	redisKey := flag.String("redis-key", "", "Redis key for results (default: xsim:results:pairs)")
	pgTable := flag.String("table", "xsim_pairs", "Postgres table name when store=postgres")
	flag.Parse()

	if v := os.Getenv("XSIM_RESULTS_DSN"); v != "" && *dsn == "" {
		*dsn = v
	}
	if v := os.Getenv("XSIM_RESULTS_REDIS"); v != "" && *redisAddr == "" {
		*redisAddr = v
	}

	var store results.Store
	switch *storeKind {
	case "memory":
		store = results.NewMemoryStore(*maxRecords)
	case "postgres":
		if *dsn == "" {
			log.Fatal("postgres store requires -dsn or XSIM_RESULTS_DSN")
		}
		db, err := sql.Open("postgres", *dsn)
		if err != nil {
			log.Fatalf("postgres: %v", err)
		}
		defer db.Close()
		pg, err := results.NewPostgresStore(context.Background(), db, *pgTable)
		if err != nil {
			log.Fatalf("postgres store: %v", err)
		}
		store = pg
	case "redis":
		if *redisAddr == "" {
			log.Fatal("redis store requires -redis or XSIM_RESULTS_REDIS")
		}
		rdb := redis.NewClient(&redis.Options{Addr: *redisAddr})
		defer rdb.Close()
		store = results.NewRedisStore(rdb, *redisKey)
	default:
		log.Fatalf("unknown store: %s", *storeKind)
	}

	srv := results.NewServer(store, *addr)
	log.Printf("results server listening on %s (store=%s)", *addr, *storeKind)
	log.Fatal(srv.ListenAndServe())
}

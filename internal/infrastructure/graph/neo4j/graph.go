package neo4j

import (
	"context"
	"fmt"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// Graph resolves peer tickers from a Neo4j company graph. It is an optional
// upgrade over the static lexicon peer lists; callers fall back to the
// lexicon when the driver is absent or a query fails.
type Graph struct {
	driver   neo4j.DriverWithContext
	database string
}

type Config struct {
	URI      string
	Username string
	Password string
	Database string
}

func New(ctx context.Context, cfg Config) (*Graph, error) {
	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.Username, cfg.Password, ""))
	if err != nil {
		return nil, fmt.Errorf("create neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("verify neo4j connectivity: %w", err)
	}
	return &Graph{driver: driver, database: cfg.Database}, nil
}

func (g *Graph) Close(ctx context.Context) error {
	return g.driver.Close(ctx)
}

func (g *Graph) Peers(ctx context.Context, ticker string) ([]string, error) {
	ticker = strings.ToUpper(strings.TrimSpace(ticker))
	if ticker == "" {
		return nil, nil
	}

	result, err := neo4j.ExecuteQuery(ctx, g.driver,
		`MATCH (c:Company {ticker: $ticker})-[:COMPETES_WITH]-(peer:Company)
		 RETURN peer.ticker AS ticker
		 ORDER BY peer.ticker`,
		map[string]any{"ticker": ticker},
		neo4j.EagerResultTransformer,
		neo4j.ExecuteQueryWithDatabase(g.database),
	)
	if err != nil {
		return nil, fmt.Errorf("query peers: %w", err)
	}

	peers := make([]string, 0, len(result.Records))
	for _, record := range result.Records {
		value, ok := record.Get("ticker")
		if !ok {
			continue
		}
		if peer, ok := value.(string); ok && peer != "" {
			peers = append(peers, peer)
		}
	}
	return peers, nil
}

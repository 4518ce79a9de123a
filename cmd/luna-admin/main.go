// Command luna-admin inspects a child's knowledge graph from the command
// line: entities, summary, clusters, traversals, and the reply context block,
// straight from the storage backend without going through the relay.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/lunalabs/luna-relay/internal/config"
	"github.com/lunalabs/luna-relay/internal/kg"
	"github.com/lunalabs/luna-relay/internal/kg/contextbuilder"
	"github.com/lunalabs/luna-relay/internal/kg/query"
	"github.com/lunalabs/luna-relay/internal/llm"
	"github.com/lunalabs/luna-relay/internal/storage"
	"github.com/lunalabs/luna-relay/internal/storage/postgres"
	"github.com/lunalabs/luna-relay/internal/storage/sqlite"
	"github.com/lunalabs/luna-relay/pkg/types"
)

var (
	flagUser  string
	flagChild string
)

func main() {
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:           "luna-admin",
		Short:         "Inspect the knowledge graph",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flagUser, "user", "", "user ID (required)")
	root.PersistentFlags().StringVar(&flagChild, "child", "", "child ID (required)")
	_ = root.MarkPersistentFlagRequired("user")
	_ = root.MarkPersistentFlagRequired("child")

	root.AddCommand(entitiesCmd(), summaryCmd(), clustersCmd(), relatedCmd(), chainCmd(), contextCmd(), simulateCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "luna-admin: %v\n", err)
		os.Exit(1)
	}
}

func openStore() (storage.Store, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if cfg.Storage.Backend == "postgres" {
		return postgres.New(cfg.Storage.Postgres)
	}
	return sqlite.New(cfg.Storage.DataPath + "/luna.db")
}

func scope() storage.Scope {
	return storage.Scope{UserID: flagUser, ChildID: flagChild}
}

func entitiesCmd() *cobra.Command {
	var entityType, orderBy string
	var limit int

	cmd := &cobra.Command{
		Use:   "entities",
		Short: "List a child's entities",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			entities, err := kg.NewService(store).GetEntities(context.Background(), scope(), storage.EntityQuery{
				Type:    entityType,
				OrderBy: orderBy,
				Limit:   limit,
			})
			if err != nil {
				return err
			}
			for _, e := range entities {
				fmt.Printf("%-40s %-18s strength=%.2f mentions=%d conversations=%d\n",
					e.ID, e.Type, e.Strength, e.MentionCount, e.ConversationCount)
			}
			fmt.Printf("%d entities\n", len(entities))
			return nil
		},
	}
	cmd.Flags().StringVar(&entityType, "type", "", "filter by entity type")
	cmd.Flags().StringVar(&orderBy, "order", storage.OrderByStrength, "order by: strength, mentionCount, lastMentionedAt, name")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum entities to list")
	return cmd
}

func summaryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "summary",
		Short: "Show the per-child summary aggregate",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			summary, err := kg.NewService(store).GetSummary(context.Background(), scope())
			if err != nil {
				return err
			}
			fmt.Printf("child: %s  updated: %s\n", summary.ChildID, summary.LastUpdatedAt.Format("2006-01-02 15:04:05"))
			fmt.Printf("entities: %d (topics %d, skills %d, interests %d, concepts %d, traits %d)\n",
				summary.Stats.TotalEntities, summary.Stats.TopicsCount, summary.Stats.SkillsCount,
				summary.Stats.InterestsCount, summary.Stats.ConceptsCount, summary.Stats.TraitsCount)
			for _, t := range summary.TopTopics {
				fmt.Printf("  topic   %-30s mentions=%d\n", t.Name, t.Count)
			}
			for _, s := range summary.TopSkills {
				fmt.Printf("  skill   %-30s level=%s\n", s.Name, s.Level)
			}
			for _, i := range summary.TopInterests {
				fmt.Printf("  interest %-29s strength=%.2f\n", i.Name, i.Strength)
			}
			return nil
		},
	}
}

func clustersCmd() *cobra.Command {
	var minSize int

	cmd := &cobra.Command{
		Use:   "clusters",
		Short: "Detect interest clusters",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			clusters, err := query.NewEngine(store).InterestClusters(context.Background(), scope(), minSize)
			if err != nil {
				return err
			}
			for _, c := range clusters {
				names := make([]string, 0, len(c.Entities))
				for _, e := range c.Entities {
					names = append(names, e.Name)
				}
				fmt.Printf("%s (%d): %s\n  %s\n", c.ID, c.Size, c.Label, strings.Join(names, ", "))
			}
			if len(clusters) == 0 {
				fmt.Println("no clusters")
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&minSize, "min-size", query.DefaultMinClusterSize, "minimum cluster size")
	return cmd
}

func relatedCmd() *cobra.Command {
	var depth int
	var minWeight float64

	cmd := &cobra.Command{
		Use:   "related <entity-id>",
		Short: "BFS related entities from a starting entity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			result, err := query.NewEngine(store).RelatedEntities(context.Background(), scope(), args[0], query.RelatedOptions{
				MaxDepth:  depth,
				MinWeight: minWeight,
			})
			if err != nil {
				return err
			}
			for d := 0; d <= depth; d++ {
				for _, e := range result.EntitiesByDepth[d] {
					fmt.Printf("depth=%d %-40s %-18s strength=%.2f\n", d, e.ID, e.Type, e.Strength)
				}
			}
			fmt.Printf("%d entities, %d edges\n", result.TotalEntities, result.TotalEdges)
			return nil
		},
	}
	cmd.Flags().IntVar(&depth, "depth", query.DefaultRelatedDepth, "maximum traversal depth")
	cmd.Flags().Float64Var(&minWeight, "min-weight", query.DefaultRelatedMinWeight, "minimum edge weight")
	return cmd
}

func chainCmd() *cobra.Command {
	var depth int

	cmd := &cobra.Command{
		Use:   "chain <entity-id>",
		Short: "Show the prerequisite chain leading to an entity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			chain, err := query.NewEngine(store).PrerequisiteChain(context.Background(), scope(), args[0], depth)
			if err != nil {
				return err
			}
			if len(chain) == 0 {
				fmt.Println("no prerequisites")
				return nil
			}
			names := make([]string, 0, len(chain)+1)
			for _, e := range chain {
				names = append(names, e.Name)
			}
			fmt.Printf("%s -> %s\n", strings.Join(names, " -> "), args[0])
			return nil
		},
	}
	cmd.Flags().IntVar(&depth, "depth", query.DefaultChainDepth, "maximum chain depth")
	return cmd
}

func simulateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "simulate <transcript-file>",
		Short: "Run a transcript through the extraction pipeline",
		Long: `Run a transcript file through the extraction pipeline and print the
resulting summary. Each line is "child: ..." or "toy: ..."; blank lines and
other lines are ignored. Requires an OpenAI API key.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			messages, err := readTranscript(args[0])
			if err != nil {
				return err
			}
			if len(messages) == 0 {
				return fmt.Errorf("transcript %s contains no child/toy lines", args[0])
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			logger := log.NewWithOptions(os.Stderr, log.Options{Level: log.InfoLevel})
			extractor := kg.NewExtractor(store, store, llm.NewExtractionGenerator(cfg.LLM), nil, logger)

			conversationID := fmt.Sprintf("sim_%s_%d", flagChild, time.Now().UnixMilli())
			if err := extractor.ExtractAndStore(cmd.Context(), scope(), conversationID, messages); err != nil {
				return err
			}

			summary, err := kg.NewService(store).GetSummary(cmd.Context(), scope())
			if err != nil {
				return err
			}
			edges, err := store.ListEdges(cmd.Context(), scope(), storage.EdgeQuery{})
			if err != nil {
				return err
			}
			fmt.Printf("extracted %d messages into conversation %s\n", len(messages), conversationID)
			fmt.Printf("entities: %d  edges: %d\n", summary.Stats.TotalEntities, len(edges))
			for _, t := range summary.TopTopics {
				fmt.Printf("  topic %-30s mentions=%d\n", t.Name, t.Count)
			}
			return nil
		},
	}
	return cmd
}

// readTranscript parses "child:"/"toy:" prefixed lines into messages.
func readTranscript(path string) ([]types.Message, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	var messages []types.Message
	for i, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		var sender string
		switch {
		case strings.HasPrefix(line, "child:"):
			sender = types.SenderChild
		case strings.HasPrefix(line, "toy:"):
			sender = types.SenderToy
		default:
			continue
		}
		content := strings.TrimSpace(strings.TrimPrefix(line, sender+":"))
		if content == "" {
			continue
		}
		messages = append(messages, types.Message{
			Sender:    sender,
			Content:   content,
			Timestamp: now.Add(time.Duration(i) * time.Second),
		})
	}
	return messages, nil
}

func contextCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "context <message>",
		Short: "Render the reply context block for a message",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			logger := log.NewWithOptions(os.Stderr, log.Options{Level: log.WarnLevel})
			builder := contextbuilder.New(store, query.NewEngine(store), logger)
			block := builder.Build(context.Background(), scope(), args[0])
			if block == "" {
				fmt.Println("(no knowledge context)")
				return nil
			}
			fmt.Println(block)
			return nil
		},
	}
	return cmd
}

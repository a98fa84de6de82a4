// Command paranoia-stream is the Lambda entrypoint that cascades removals
// from DynamoDB Streams to referenced children.
//
// Environment:
//
//	PARANOIA_RELATIONSHIP_TABLE  relationship table (default "paranoia_relationships")
//	PARANOIA_NUM_SHARDS          relationship table shards (default 1)
//	PARANOIA_DELETED_AT_FIELD    soft-delete field (default "deleted_at")
//	PARANOIA_RELATIONSHIPS       comma-separated parent:child:table:parentKey[:deletedAt]
//	PARANOIA_DELETED_AT_FIELDS   comma-separated type:field for custom soft-delete fields
//	LOG_LEVEL                    debug, info, warn or error (default info)
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"

	"github.com/jacentio/paranoia/store"
	"github.com/jacentio/paranoia/stream"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(os.Getenv("LOG_LEVEL")),
	}))

	cfg, err := storeConfig(os.Getenv)
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	registry, err := parseRelationships(os.Getenv("PARANOIA_RELATIONSHIPS"))
	if err != nil {
		logger.Error("invalid relationships", "error", err)
		os.Exit(1)
	}
	if err := parseDeletedAtFields(registry, os.Getenv("PARANOIA_DELETED_AT_FIELDS")); err != nil {
		logger.Error("invalid deleted-at fields", "error", err)
		os.Exit(1)
	}

	awsCfg, err := config.LoadDefaultConfig(context.Background())
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}

	s := store.NewWithRegistry(dynamodb.NewFromConfig(awsCfg), cfg, registry)
	s.SetLogger(logger)
	h := stream.NewHandler(s, logger)

	logger.Info("starting stream handler",
		"relationshipTable", s.Config().RelationshipTable,
		"numShards", s.Config().NumShards,
		"relationships", len(registry.AllRelationships()),
	)
	lambda.Start(h.HandleCascadeDelete)
}

func storeConfig(getenv func(string) string) (store.Config, error) {
	cfg := store.DefaultConfig()
	if v := getenv("PARANOIA_RELATIONSHIP_TABLE"); v != "" {
		cfg.RelationshipTable = v
	}
	if v := getenv("PARANOIA_DELETED_AT_FIELD"); v != "" {
		cfg.DeletedAtField = v
	}
	if v := getenv("PARANOIA_NUM_SHARDS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("PARANOIA_NUM_SHARDS: %w", err)
		}
		cfg.NumShards = n
	}
	return cfg, nil
}

// parseRelationships reads "parent:child:table:parentKey[:deletedAt]" entries.
func parseRelationships(value string) (*store.Registry, error) {
	registry := store.NewRegistry()
	for entry := range strings.SplitSeq(value, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.Split(entry, ":")
		if len(parts) != 4 && len(parts) != 5 {
			return nil, fmt.Errorf("relationship %q: want parent:child:table:parentKey[:deletedAt]", entry)
		}
		rel := store.Relationship{
			ParentType:     parts[0],
			ChildType:      parts[1],
			ChildTableName: parts[2],
			ParentKeyAttr:  parts[3],
		}
		if len(parts) == 5 {
			rel.ChildDeletedAt = parts[4]
		}
		registry.Register(rel)
	}
	return registry, nil
}

// parseDeletedAtFields reads "type:field" entries into registry.
func parseDeletedAtFields(registry *store.Registry, value string) error {
	for entry := range strings.SplitSeq(value, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		entityType, field, ok := strings.Cut(entry, ":")
		if !ok || entityType == "" || field == "" {
			return fmt.Errorf("deleted-at field %q: want type:field", entry)
		}
		registry.RegisterDeletedAt(entityType, field)
	}
	return nil
}

func parseLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return level
}

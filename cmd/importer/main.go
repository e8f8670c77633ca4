package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"github.com/fjwyyds6668/ai-tourguide/internal/bootstrap"
	"github.com/fjwyyds6668/ai-tourguide/internal/ingestion"
	"github.com/fjwyyds6668/ai-tourguide/internal/storage/models"
	"github.com/fjwyyds6668/ai-tourguide/pkg/config"
	"github.com/fjwyyds6668/ai-tourguide/pkg/logger"
)

func main() {
	cmd := &cli.Command{
		Name:  "importer",
		Usage: "Load attractions, knowledge documents and characters into the guide's stores",
		Commands: []*cli.Command{
			attractionsCommand(),
			knowledgeCommand(),
			deleteCommand(),
			characterCommand(),
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := cmd.Run(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "importer: %v\n", err)
		os.Exit(1)
	}
}

// withContainer loads config, opens every backend and runs fn.
func withContainer(ctx context.Context, fn func(ctx context.Context, c *bootstrap.Container) error) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := logger.Init(cfg.Logging.Level, "console", "stderr"); err != nil {
		return err
	}
	defer logger.Sync()

	c, err := bootstrap.NewContainer(ctx, cfg)
	if err != nil {
		return err
	}
	defer c.Close()

	return fn(ctx, c)
}

func attractionsCommand() *cli.Command {
	return &cli.Command{
		Name:  "attractions",
		Usage: "Index every attraction row as a passage and build its graph nodes",
		Action: func(ctx context.Context, _ *cli.Command) error {
			return withContainer(ctx, func(ctx context.Context, c *bootstrap.Container) error {
				attractions, err := c.SQLite.ListAttractions(ctx)
				if err != nil {
					return err
				}
				if len(attractions) == 0 {
					logger.Warn("No attractions to import")
					return nil
				}

				res, err := c.Processor.ImportAttractions(ctx, attractions)
				if err != nil {
					return err
				}
				logger.Info("Attractions imported", zap.Int("attractions", len(attractions)), zap.Int("chunks", res.Chunks))
				return nil
			})
		},
	}
}

func knowledgeCommand() *cli.Command {
	var file, url, title, source, contentType, docID string

	return &cli.Command{
		Name:  "knowledge",
		Usage: "Ingest a text or HTML document from a file or a URL",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "file",
				Aliases:     []string{"f"},
				Usage:       "Path of the document to ingest",
				Destination: &file,
			},
			&cli.StringFlag{
				Name:        "url",
				Aliases:     []string{"u"},
				Usage:       "Page to download and ingest",
				Destination: &url,
			},
			&cli.StringFlag{
				Name:        "title",
				Usage:       "Document title; defaults to the HTML title",
				Destination: &title,
			},
			&cli.StringFlag{
				Name:        "source",
				Usage:       "Where the document came from",
				Destination: &source,
			},
			&cli.StringFlag{
				Name:        "type",
				Usage:       "text or html; detected when empty",
				Destination: &contentType,
			},
			&cli.StringFlag{
				Name:        "id",
				Usage:       "Document id; re-using an id replaces that document",
				Destination: &docID,
			},
		},
		Action: func(ctx context.Context, _ *cli.Command) error {
			if (file == "") == (url == "") {
				return errors.New("exactly one of --file or --url is required")
			}

			doc, err := loadDocument(ctx, file, url)
			if err != nil {
				return err
			}
			doc.ID = docID
			if title != "" {
				doc.Title = title
			}
			if source != "" {
				doc.Source = source
			}
			if contentType != "" {
				doc.ContentType = contentType
			}

			return withContainer(ctx, func(ctx context.Context, c *bootstrap.Container) error {
				res, err := c.Processor.Process(ctx, doc)
				if err != nil {
					return err
				}
				fmt.Printf("doc_id=%s chunks=%d mentions=%d\n", res.DocID, res.Chunks, res.Mentions)
				return nil
			})
		},
	}
}

func loadDocument(ctx context.Context, file, url string) (ingestion.Document, error) {
	if url != "" {
		return ingestion.NewFetcher(30*time.Second).Fetch(ctx, url)
	}

	content, err := os.ReadFile(file)
	if err != nil {
		return ingestion.Document{}, fmt.Errorf("failed to read %s: %w", file, err)
	}
	doc := ingestion.Document{Source: file, Content: string(content)}
	switch strings.ToLower(filepath.Ext(file)) {
	case ".html", ".htm":
		doc.ContentType = "html"
	}
	return doc, nil
}

func deleteCommand() *cli.Command {
	var docID string

	return &cli.Command{
		Name:  "delete",
		Usage: "Remove a document from every store",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "id",
				Usage:       "Document id",
				Required:    true,
				Destination: &docID,
			},
		},
		Action: func(ctx context.Context, _ *cli.Command) error {
			return withContainer(ctx, func(ctx context.Context, c *bootstrap.Container) error {
				return c.Processor.Delete(ctx, docID)
			})
		},
	}
}

func characterCommand() *cli.Command {
	var name, description, style, prompt, voice string

	return &cli.Command{
		Name:  "character",
		Usage: "Add a guide persona",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "name", Required: true, Destination: &name},
			&cli.StringFlag{Name: "prompt", Usage: "System prompt for the persona", Required: true, Destination: &prompt},
			&cli.StringFlag{Name: "style", Usage: "Speaking style appended to the prompt", Destination: &style},
			&cli.StringFlag{Name: "description", Destination: &description},
			&cli.StringFlag{Name: "voice", Usage: "TTS voice name", Destination: &voice},
		},
		Action: func(ctx context.Context, _ *cli.Command) error {
			return withContainer(ctx, func(ctx context.Context, c *bootstrap.Container) error {
				id, err := c.SQLite.InsertCharacter(ctx, &models.Character{
					Name:        name,
					Description: description,
					Style:       style,
					Prompt:      prompt,
					Voice:       voice,
					IsActive:    true,
				})
				if err != nil {
					return err
				}
				fmt.Printf("character_id=%d\n", id)
				return nil
			})
		},
	}
}

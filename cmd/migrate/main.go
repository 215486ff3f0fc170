// Command migrate copies the JSON state files into the SQLite backend so an
// existing deployment can switch storage.backend to "sqlite" without losing
// watermarks, the catalog or subscriptions. Documents are copied byte for
// byte; encrypted ones stay sealed and need no secret here.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"maxrelay/internal/constants"
	"maxrelay/internal/storage"
)

type options struct {
	statePath       string
	subscribersPath string
	catalogPath     string
	dbPath          string
	force           bool
}

type result struct {
	copied  []string
	skipped []string
}

func main() {
	opts := options{}
	flag.StringVar(&opts.statePath, "state", constants.DefaultStatePath, "Path to the watermark JSON file")
	flag.StringVar(&opts.subscribersPath, "subscribers", constants.DefaultSubscribersPath, "Path to the subscribers JSON file")
	flag.StringVar(&opts.catalogPath, "catalog", constants.DefaultCatalogPath, "Path to the catalog JSON file")
	flag.StringVar(&opts.dbPath, "db", constants.DefaultSQLitePath, "Path to the SQLite database")
	flag.BoolVar(&opts.force, "force", false, "Overwrite documents already present in the database")
	flag.Parse()

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, err := migrate(ctx, opts, logger)
	if err != nil {
		logger.Fatalf("Migration failed: %v", err)
	}
	logger.WithFields(logrus.Fields{
		"copied":  res.copied,
		"skipped": res.skipped,
	}).Info("Migration completed")
}

func migrate(ctx context.Context, opts options, logger *logrus.Logger) (*result, error) {
	backend, err := storage.OpenSQLite(ctx, opts.dbPath)
	if err != nil {
		return nil, err
	}
	defer backend.Close()

	pairs := []struct {
		name string
		path string
	}{
		{constants.DocumentWatermarks, opts.statePath},
		{constants.DocumentCatalog, opts.catalogPath},
		{constants.DocumentSubscribers, opts.subscribersPath},
	}

	res := &result{}
	for _, p := range pairs {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		src, err := storage.NewFileDocument(p.path)
		if err != nil {
			return res, err
		}
		dst := backend.Document(p.name)

		log := logger.WithFields(logrus.Fields{"document": p.name, "source": p.path})

		data, err := src.Load()
		if errors.Is(err, storage.ErrNotFound) {
			log.Info("Source file not found, skipping")
			res.skipped = append(res.skipped, p.name)
			continue
		}
		if err != nil {
			return res, fmt.Errorf("failed to read %s: %w", p.path, err)
		}

		if !opts.force {
			if _, err := dst.Load(); err == nil {
				log.Warn("Document already in database, skipping (use --force to overwrite)")
				res.skipped = append(res.skipped, p.name)
				continue
			} else if !errors.Is(err, storage.ErrNotFound) {
				return res, err
			}
		}

		if err := dst.Save(data); err != nil {
			return res, err
		}
		log.WithField("size_bytes", len(data)).Info("Document copied")
		res.copied = append(res.copied, p.name)
	}
	return res, nil
}

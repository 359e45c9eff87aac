package main

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/rpattn/loadflow/internal/config"
	"github.com/rpattn/loadflow/internal/db"
	"github.com/rpattn/loadflow/internal/domain"
	"github.com/rpattn/loadflow/internal/enrichment"
	"github.com/rpattn/loadflow/internal/logger"
	"github.com/rpattn/loadflow/internal/pipeline"
	"github.com/rpattn/loadflow/internal/postback"
	"github.com/rpattn/loadflow/internal/repository"
	"github.com/rpattn/loadflow/internal/submission"
)

type stackOptions struct {
	// persist records runs and serves saved mappings from the database.
	persist bool
	// enrich connects the warehouse even when config leaves it disabled.
	enrich bool
}

// stack is a fully wired pipeline service and the resources behind it.
type stack struct {
	service    *pipeline.Service
	metrics    *prometheus.Registry
	mappings   repository.MappingRepository
	runs       repository.RunRepository
	dispatcher *postback.Dispatcher
	conns      []*db.Connection
}

func buildStack(ctx context.Context, cfg config.Config, opts stackOptions) (*stack, error) {
	log := logger.FromContext(ctx)
	st := &stack{metrics: prometheus.NewRegistry()}

	client := submission.NewClient(submission.Options{
		BaseURL:       cfg.API.BaseURL,
		LoadIDBaseURL: cfg.API.LoadIDBaseURL,
		BrokerageKey:  cfg.API.BrokerageKey,
		Token:         cfg.API.Token,
		APIKey:        cfg.API.APIKey,
		Timeout:       cfg.API.Timeout,
		RetryCount:    cfg.API.RetryCount,
		RetryDelay:    cfg.API.RetryDelay,
		Concurrency:   cfg.API.Concurrency,
	})

	serviceOpts := []pipeline.Option{
		pipeline.WithLoadIDMapper(submission.NewLoadIDMapper(client)),
		pipeline.WithMetrics(pipeline.NewMetrics(st.metrics)),
		pipeline.WithDefaultBrokerageKey(cfg.API.BrokerageKey),
		pipeline.WithMaxUploadBytes(cfg.Upload.MaxBytes),
	}
	if cfg.API.BaseURL != "" {
		serviceOpts = append(serviceOpts, pipeline.WithSubmitter(submission.NewSubmitter(client, nil)))
		if cfg.API.Preflight {
			serviceOpts = append(serviceOpts, pipeline.WithPreflight(client))
		}
	} else {
		log.Warn("api.base_url is not set, submission will be skipped")
	}

	dispatcher, err := postback.NewDispatcher(cfg.Handlers)
	if err != nil {
		return nil, err
	}
	st.dispatcher = dispatcher
	serviceOpts = append(serviceOpts, pipeline.WithDispatcher(dispatcher))

	if cfg.Enrichment.Enabled || opts.enrich {
		conn, err := db.NewConnection(ctx, cfg.Enrichment.Warehouse)
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("failed to connect to warehouse: %w", err)
		}
		st.conns = append(st.conns, conn)

		categories := make([]domain.Category, 0, len(cfg.Enrichment.Categories))
		for _, c := range cfg.Enrichment.Categories {
			categories = append(categories, domain.Category(c))
		}
		warehouse := enrichment.NewSQLWarehouse(conn.Pool,
			enrichment.WithSchema(cfg.Enrichment.Schema),
			enrichment.WithBrokerageID(cfg.Enrichment.BrokerageID),
		)
		gatewayOpts := []enrichment.Option{
			enrichment.WithCategories(categories...),
			enrichment.WithConcurrency(cfg.Enrichment.Concurrency),
		}
		if cfg.Enrichment.Source != "" {
			gatewayOpts = append(gatewayOpts, enrichment.WithSource(cfg.Enrichment.Source))
		}
		serviceOpts = append(serviceOpts, pipeline.WithEnricher(enrichment.NewGateway(warehouse, gatewayOpts...)))
	}

	if opts.persist {
		conn, err := db.NewConnection(ctx, cfg.Database)
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		st.conns = append(st.conns, conn)
		st.mappings = repository.NewMappingRepository(conn.Pool)
		st.runs = repository.NewRunRepository(conn.Pool)
		serviceOpts = append(serviceOpts, pipeline.WithRunRepository(st.runs))
	}

	st.service = pipeline.NewService(serviceOpts...)
	log.Debug("pipeline wired",
		"handlers", dispatcher.Len(),
		"submission", cfg.API.BaseURL != "",
		"enrichment", cfg.Enrichment.Enabled || opts.enrich,
		"persist", opts.persist,
	)
	return st, nil
}

// Close releases handlers and connection pools.
func (s *stack) Close() {
	if s.dispatcher != nil {
		if err := s.dispatcher.Close(); err != nil {
			logger.FromContext(context.Background()).Warn("failed to close postback handlers", "error", err)
		}
	}
	for _, conn := range s.conns {
		conn.Close()
	}
}

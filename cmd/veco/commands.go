package main

import (
	"fmt"
	"io"
	"sort"
	"strconv"

	"veco-ner/cmd"
	"veco-ner/internal/config"
	"veco-ner/internal/core"
	"veco-ner/pkg/api"
	"veco-ner/pkg/client"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

func newModelsCmd(opts *rootOptions) *cobra.Command {
	var task string

	c := &cobra.Command{
		Use:   "models",
		Short: "List registered checkpoints",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			models, err := client.New(opts.server).ListModels(c.Context(), task)
			if err != nil {
				return err
			}

			rows := make([][]string, 0, len(models))
			for _, m := range models {
				rows = append(rows, []string{m.Name, m.Task, m.ModelType, strconv.FormatBool(m.Loaded), m.ModelDir})
			}
			return renderTable(c.OutOrStdout(), []string{"NAME", "TASK", "TYPE", "LOADED", "DIR"}, rows)
		},
	}

	c.Flags().StringVar(&task, "task", "", "only list checkpoints of this task")
	return c
}

func newRegisterCmd(opts *rootOptions) *cobra.Command {
	var (
		req          api.RegisterCheckpointRequest
		numLabels    int
		manifestPath string
		uploadBucket string
	)

	c := &cobra.Command{
		Use:   "register [NAME]",
		Short: "Register checkpoints with the server",
		Long: "Register a single checkpoint given by flags, or every checkpoint listed in a yaml manifest with --file.\n" +
			"With --upload, local checkpoint directories are copied to the object store first.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			var requests []api.RegisterCheckpointRequest
			switch {
			case manifestPath != "":
				loaded, err := cmd.LoadManifest(manifestPath)
				if err != nil {
					return err
				}
				requests = loaded
			case len(args) == 1:
				req.Name = args[0]
				if c.Flags().Changed("num-labels") {
					req.NumLabels = &numLabels
				}
				requests = append(requests, req)
			default:
				return fmt.Errorf("either a model name or --file is required")
			}

			if uploadBucket != "" {
				cfg, err := config.Load(opts.envFile)
				if err != nil {
					return err
				}
				store, err := cmd.NewObjectStore(cfg)
				if err != nil {
					return err
				}
				for i := range requests {
					uri, err := cmd.UploadCheckpoint(c.Context(), store, uploadBucket, requests[i].Name, requests[i].ModelDir)
					if err != nil {
						return err
					}
					requests[i].ModelDir = uri
				}
			}

			cl := client.New(opts.server)
			for _, r := range requests {
				created, err := cl.RegisterModel(c.Context(), r)
				if err != nil {
					return fmt.Errorf("error registering %s: %w", r.Name, err)
				}
				fmt.Fprintf(c.OutOrStdout(), "registered %s (%s/%s) %s\n", created.Name, created.Task, created.ModelType, created.ModelDir)
			}
			return nil
		},
	}

	c.Flags().StringVar(&req.ModelDir, "dir", "", "checkpoint directory or s3://bucket/prefix")
	c.Flags().StringVar(&req.Task, "task", "", "model task (default token-classification)")
	c.Flags().StringVar(&req.ModelType, "type", "", "registered model type (default veco)")
	c.Flags().IntVar(&numLabels, "num-labels", 0, "number of labels, overriding the checkpoint")
	c.Flags().StringToIntVar(&req.Label2ID, "label", nil, "label mapping entries, e.g. --label O=0,B-PER=1")
	c.Flags().StringVarP(&manifestPath, "file", "f", "", "yaml manifest of checkpoints to register")
	c.Flags().StringVar(&uploadBucket, "upload", "", "upload local checkpoint directories to this bucket")
	return c
}

func newLabelsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "labels MODEL",
		Short: "Show the label mapping a model is served with",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			res, err := client.New(opts.server).Labels(c.Context(), args[0])
			if err != nil {
				return err
			}

			ids := make([]int, 0, len(res.ID2Label))
			for id := range res.ID2Label {
				ids = append(ids, id)
			}
			sort.Ints(ids)

			rows := make([][]string, 0, len(ids))
			for _, id := range ids {
				rows = append(rows, []string{strconv.Itoa(id), res.ID2Label[id]})
			}
			return renderTable(c.OutOrStdout(), []string{"ID", "LABEL"}, rows)
		},
	}
}

func newPredictCmd(opts *rootOptions) *cobra.Command {
	var (
		dir         string
		aggregation string
	)

	c := &cobra.Command{
		Use:   "predict [MODEL] TEXT...",
		Short: "Tag entities in texts",
		Long:  "Send texts to a model on the server, or with --dir run a checkpoint directory locally.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			if dir != "" {
				entities, err := predictLocal(c, opts, dir, aggregation, args)
				if err != nil {
					return err
				}
				return printEntities(c.OutOrStdout(), entities)
			}

			if len(args) < 2 {
				return fmt.Errorf("a model name and at least one text are required")
			}
			res, err := client.New(opts.server).Predict(c.Context(), args[0], api.PredictRequest{
				Texts:       args[1:],
				Aggregation: aggregation,
			})
			if err != nil {
				return err
			}
			return printEntities(c.OutOrStdout(), res.Entities)
		},
	}

	c.Flags().StringVar(&dir, "dir", "", "run this checkpoint directory locally instead of using the server")
	c.Flags().StringVar(&aggregation, "aggregation", "", "entity aggregation: simple or none")
	return c
}

func predictLocal(c *cobra.Command, opts *rootOptions, dir, aggregation string, texts []string) ([][]api.Entity, error) {
	cfg, err := config.Load(opts.envFile)
	if err != nil {
		return nil, err
	}
	cmd.InitOnnx(cfg)

	strategy, err := core.ParseAggregationStrategy(aggregation)
	if err != nil {
		return nil, err
	}

	model, err := core.NewFactory().Instantiate(c.Context(), core.InstantiateOptions{ModelDir: dir})
	if err != nil {
		return nil, err
	}
	tokenizer, err := core.LoadTokenizer(dir)
	if err != nil {
		model.Release()
		return nil, err
	}

	pipeline := core.NewTokenClassificationPipeline(dir, model, tokenizer, core.PipelineOptions{
		Aggregation: strategy,
		Workers:     cfg.PredictWorkers,
	})
	defer pipeline.Release()

	predicted, err := pipeline.PredictBatch(c.Context(), texts)
	if err != nil {
		return nil, err
	}

	out := make([][]api.Entity, len(predicted))
	for i, entities := range predicted {
		for _, e := range entities {
			out[i] = append(out[i], api.Entity{
				Label: e.Label, Text: e.Text, Start: e.Start, End: e.End, Score: e.Score,
				LContext: e.LContext, RContext: e.RContext,
			})
		}
	}
	return out, nil
}

func printEntities(out io.Writer, entities [][]api.Entity) error {
	var rows [][]string
	for i, es := range entities {
		for _, e := range es {
			rows = append(rows, []string{
				strconv.Itoa(i), e.Label, fmt.Sprintf("%d-%d", e.Start, e.End), fmt.Sprintf("%.3f", e.Score), e.Text,
			})
		}
	}
	return renderTable(out, []string{"TEXT", "LABEL", "SPAN", "SCORE", "ENTITY"}, rows)
}

func renderTable(out io.Writer, header []string, rows [][]string) error {
	cells := make([]any, len(header))
	for i, h := range header {
		cells[i] = h
	}

	table := tablewriter.NewWriter(out)
	table.Header(cells...)
	if err := table.Bulk(rows); err != nil {
		return err
	}
	return table.Render()
}

package genens

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"genens/internal/dataset"
	"genens/internal/evo"
	"genens/internal/gp"
	"genens/internal/model"
	"genens/internal/primitives"
	"genens/internal/stats"
	"genens/internal/storage"
)

var ErrRunNotFound = errors.New("run not found")

const defaultDBPath = "genens.db"

type ClientOptions struct {
	StoreKind string
	DBPath    string
	Logger    *slog.Logger
}

// Client runs searches on CSV data and persists their results.
type Client struct {
	store  storage.Store
	logger *slog.Logger
}

func New(opts ClientOptions) (*Client, error) {
	dbPath := opts.DBPath
	if dbPath == "" {
		dbPath = defaultDBPath
	}
	store, err := storage.NewStore(opts.StoreKind, dbPath)
	if err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{store: store, logger: logger}, nil
}

func (c *Client) Init(ctx context.Context) error {
	return c.store.Init(ctx)
}

func (c *Client) Close() error {
	return storage.CloseIfSupported(c.store)
}

type RunRequest struct {
	DatasetPath string
	// Target names the label column; empty selects the last column.
	Target string
	// TestPath is the held-out CSV of the train_test strategy.
	TestPath   string
	Classifier Options
}

type RunSummary struct {
	RunID            string
	Best             Pipeline
	HallOfFame       []Pipeline
	BestByGeneration []float64
	// Classes names the encoded class labels of categorical targets.
	Classes []string
}

// Run loads the training CSV, fits a Classifier and stores the run.
func (c *Client) Run(ctx context.Context, req RunRequest) (RunSummary, error) {
	if req.DatasetPath == "" {
		return RunSummary{}, fmt.Errorf("%w: dataset path is required", ErrConfig)
	}
	train, err := dataset.LoadCSVFile(req.DatasetPath, dataset.CSVOptions{Target: req.Target})
	if err != nil {
		return RunSummary{}, err
	}
	opts := req.Classifier
	if opts.ClassNames == nil {
		opts.ClassNames = train.ClassNames
	}
	if req.TestPath != "" {
		// The held-out labels must share the training encoding.
		test, err := dataset.LoadCSVFile(req.TestPath, dataset.CSVOptions{Target: req.Target, Classes: train.ClassNames})
		if err != nil {
			return RunSummary{}, fmt.Errorf("held-out set %s: %w", req.TestPath, err)
		}
		opts.TestX, opts.TestY = test.X, test.Y
	}
	if opts.Logger == nil {
		opts.Logger = c.logger
	}

	clf := NewClassifier(opts)
	if err := clf.Fit(ctx, train.X, train.Y); err != nil {
		return RunSummary{}, err
	}
	if err := c.persist(ctx, clf, filepath.Base(req.DatasetPath)); err != nil {
		return RunSummary{}, fmt.Errorf("persist run %s: %w", clf.result.RunID, err)
	}

	best, _ := clf.Best()
	return RunSummary{
		RunID:            clf.result.RunID,
		Best:             best,
		HallOfFame:       clf.HallOfFame(),
		BestByGeneration: clf.BestByGeneration(),
		Classes:          clf.Classes(),
	}, nil
}

func (c *Client) persist(ctx context.Context, clf *Classifier, datasetName string) error {
	result := clf.result
	scorer := clf.opts.Scorer
	if scorer == "" {
		scorer = "accuracy"
	}
	run := model.RunRecord{
		VersionedRecord:  storage.CurrentVersion(),
		ID:               result.RunID,
		CreatedAt:        time.Now().UTC(),
		Dataset:          datasetName,
		Strategy:         clf.opts.Strategy,
		Scorer:           scorer,
		Seed:             clf.opts.Seed,
		PopulationSize:   clf.opts.PopulationSize,
		Generations:      clf.opts.Generations,
		BestScore:        result.Best.Fitness.Score,
		BestValid:        result.Best.Fitness.Valid,
		BestTree:         result.Best.Tree.String(),
		BestByGeneration: result.BestByGeneration,
		Classes:          clf.opts.ClassNames,
	}
	if err := c.store.SaveRun(ctx, run); err != nil {
		return err
	}
	if err := c.store.SaveDiagnostics(ctx, run.ID, toModelDiagnostics(result.Diagnostics)); err != nil {
		return err
	}
	members, err := toModelIndividuals(result.HallOfFame)
	if err != nil {
		return err
	}
	if err := c.store.SaveHallOfFame(ctx, run.ID, members); err != nil {
		return err
	}
	return c.store.SaveLineage(ctx, run.ID, toModelLineage(result.Lineage))
}

type RunsRequest struct {
	Limit int
}

// Runs lists stored runs, newest first.
func (c *Client) Runs(ctx context.Context, req RunsRequest) ([]model.RunRecord, error) {
	runs, err := c.store.ListRuns(ctx)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(runs)-1; i < j; i, j = i+1, j-1 {
		runs[i], runs[j] = runs[j], runs[i]
	}
	if req.Limit > 0 && len(runs) > req.Limit {
		runs = runs[:req.Limit]
	}
	return runs, nil
}

// RunRef selects a stored run by id or the latest one.
type RunRef struct {
	RunID  string
	Latest bool
}

func (c *Client) resolveRunID(ctx context.Context, ref RunRef) (string, error) {
	if ref.RunID != "" {
		return ref.RunID, nil
	}
	if !ref.Latest {
		return "", fmt.Errorf("%w: run id or latest is required", ErrConfig)
	}
	runs, err := c.store.ListRuns(ctx)
	if err != nil {
		return "", err
	}
	if len(runs) == 0 {
		return "", ErrRunNotFound
	}
	return runs[len(runs)-1].ID, nil
}

func (c *Client) Diagnostics(ctx context.Context, ref RunRef) ([]model.GenerationDiagnostics, error) {
	runID, err := c.resolveRunID(ctx, ref)
	if err != nil {
		return nil, err
	}
	diagnostics, ok, err := c.store.GetDiagnostics(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return diagnostics, nil
}

func (c *Client) HallOfFame(ctx context.Context, ref RunRef) ([]model.IndividualRecord, error) {
	runID, err := c.resolveRunID(ctx, ref)
	if err != nil {
		return nil, err
	}
	members, ok, err := c.store.GetHallOfFame(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return members, nil
}

func (c *Client) Lineage(ctx context.Context, ref RunRef) ([]model.LineageRecord, error) {
	runID, err := c.resolveRunID(ctx, ref)
	if err != nil {
		return nil, err
	}
	lineage, ok, err := c.store.GetLineage(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return lineage, nil
}

// Export writes the stored artifacts of a run into outDir/<run id> and
// returns that directory.
func (c *Client) Export(ctx context.Context, ref RunRef, outDir string) (string, error) {
	runID, err := c.resolveRunID(ctx, ref)
	if err != nil {
		return "", err
	}
	run, ok, err := c.store.GetRun(ctx, runID)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	diagnostics, err := c.Diagnostics(ctx, RunRef{RunID: runID})
	if err != nil {
		return "", err
	}
	members, err := c.HallOfFame(ctx, RunRef{RunID: runID})
	if err != nil {
		return "", err
	}
	lineage, err := c.Lineage(ctx, RunRef{RunID: runID})
	if err != nil {
		return "", err
	}
	return stats.WriteRunArtifacts(outDir, stats.RunArtifacts{
		Run:         run,
		Diagnostics: diagnostics,
		HallOfFame:  members,
		Lineage:     lineage,
	})
}

// PrimitiveInfo describes one entry of the default grammar.
type PrimitiveInfo struct {
	Name            string
	Out             string
	Inputs          []string
	Hyperparameters map[string][]any
	TerminalOnly    bool
}

// Primitives lists the default grammar as built for data with the given
// number of feature columns.
func Primitives(features int) ([]PrimitiveInfo, error) {
	catalogue, err := primitives.NewCatalogue(primitives.Options{Features: features})
	if err != nil {
		return nil, err
	}
	var out []PrimitiveInfo
	for _, typ := range catalogue.Types() {
		for _, p := range catalogue.Primitives(typ) {
			info := PrimitiveInfo{Name: p.Name, Out: p.Out, TerminalOnly: p.TerminalOnly}
			for _, slot := range p.Slots {
				info.Inputs = append(info.Inputs, slot.String())
			}
			if len(p.Domain) > 0 {
				info.Hyperparameters = make(map[string][]any, len(p.Domain))
				for name, values := range p.Domain {
					info.Hyperparameters[name] = append([]any(nil), values...)
				}
			}
			out = append(out, info)
		}
	}
	return out, nil
}

// Mutators lists the registered structural mutation operators usable in a
// mutation policy.
func Mutators() []string {
	return gp.ListMutators()
}

func toModelDiagnostics(in []evo.GenerationDiagnostics) []model.GenerationDiagnostics {
	out := make([]model.GenerationDiagnostics, 0, len(in))
	for _, d := range in {
		out = append(out, model.GenerationDiagnostics(d))
	}
	return out
}

func toModelIndividuals(in []gp.Individual) ([]model.IndividualRecord, error) {
	out := make([]model.IndividualRecord, 0, len(in))
	for i, ind := range in {
		encoded, err := gp.EncodeTree(ind.Tree)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", ind.ID, err)
		}
		out = append(out, model.IndividualRecord{
			VersionedRecord: storage.CurrentVersion(),
			ID:              ind.ID,
			Rank:            i + 1,
			Notation:        ind.Tree.String(),
			Tree:            encoded,
			Valid:           ind.Fitness.Valid,
			Score:           ind.Fitness.Score,
			LogElapsed:      ind.Fitness.LogElapsed,
		})
	}
	return out, nil
}

func toModelLineage(in []evo.LineageRecord) []model.LineageRecord {
	out := make([]model.LineageRecord, 0, len(in))
	for _, r := range in {
		out = append(out, model.LineageRecord{
			VersionedRecord: storage.CurrentVersion(),
			IndividualID:    r.IndividualID,
			ParentIDs:       append([]string(nil), r.ParentIDs...),
			Generation:      r.Generation,
			Operation:       r.Operation,
		})
	}
	return out
}

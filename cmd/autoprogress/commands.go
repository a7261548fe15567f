package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rendis/autoprogress/internal/diagram"
	"github.com/rendis/autoprogress/internal/record"
	"github.com/rendis/autoprogress/internal/scheduler"
	"github.com/rendis/autoprogress/internal/validation"
	"github.com/rendis/autoprogress/pkg/mcp"
	"github.com/rendis/autoprogress/pkg/schema"
)

var errUsage = errors.New("usage")

func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	return fs
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// readObject parses arg as inline JSON when it starts with "{", "-" as stdin,
// and anything else as a file path.
func readObject(arg string, stdin io.Reader) (map[string]any, error) {
	var data []byte
	var err error
	switch {
	case strings.HasPrefix(strings.TrimSpace(arg), "{"):
		data = []byte(arg)
	case arg == "-":
		data, err = io.ReadAll(stdin)
	default:
		data, err = os.ReadFile(arg)
	}
	if err != nil {
		return nil, err
	}
	out, err := record.DecodeObject(data)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "invalid JSON object: %v", err)
	}
	return out, nil
}

func actorFrom(id, name string) schema.Actor {
	if id == "" {
		return schema.SystemActor
	}
	return schema.Actor{ID: id, Name: name}
}

func runMigrate(ctx context.Context, cfg Config, args []string, stdout io.Writer) error {
	fs := newFlagSet("migrate")
	vacuum := fs.Bool("vacuum", false, "run VACUUM after migrating")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}

	a, err := newApp(ctx, cfg, newLogger(cfg.LogLevel))
	if err != nil {
		return err
	}
	defer a.close()

	if *vacuum {
		if err := a.store.Vacuum(ctx); err != nil {
			return err
		}
	}
	_, err = fmt.Fprintf(stdout, "database ready at %s\n", cfg.DBPath)
	return err
}

func runValidate(_ context.Context, cfg Config, args []string, stdout io.Writer) error {
	fs := newFlagSet("validate")
	if err := fs.Parse(args); err != nil || fs.NArg() != 1 {
		return errUsage
	}
	wf, err := readWorkflow(fs.Arg(0))
	if err != nil {
		return err
	}

	ev, err := newEvaluator()
	if err != nil {
		return err
	}
	validator, err := validation.NewWorkflowValidator(ev, cfg.RiskEntities...)
	if err != nil {
		return err
	}

	res := validator.Validate(wf)
	if err := printJSON(stdout, res); err != nil {
		return err
	}
	return res.ToError()
}

func runDefine(ctx context.Context, cfg Config, args []string, stdout io.Writer) error {
	fs := newFlagSet("define")
	if err := fs.Parse(args); err != nil || fs.NArg() != 1 {
		return errUsage
	}
	wf, err := readWorkflow(fs.Arg(0))
	if err != nil {
		return err
	}

	a, err := newApp(ctx, cfg, newLogger(cfg.LogLevel))
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.store.CreateWorkflow(ctx, wf); err != nil {
		return err
	}
	res := a.validator.Validate(wf)
	return printJSON(stdout, map[string]any{"workflow_id": wf.ID, "warnings": res.Warnings})
}

func readWorkflow(path string) (*schema.Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var wf schema.Workflow
	if err := json.Unmarshal(data, &wf); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "invalid workflow JSON: %v", err)
	}
	return &wf, nil
}

func runStart(ctx context.Context, cfg Config, args []string, stdout io.Writer) error {
	fs := newFlagSet("start")
	workflowID := fs.String("workflow", "", "workflow ID")
	entityType := fs.String("entity", "", "record type name")
	entityID := fs.String("id", "", "record ID")
	actorID := fs.String("actor", "", "actor ID (default: system)")
	actorName := fs.String("actor-name", "", "actor display name")
	if err := fs.Parse(args); err != nil || *workflowID == "" {
		return errUsage
	}

	a, err := newApp(ctx, cfg, newLogger(cfg.LogLevel))
	if err != nil {
		return err
	}
	defer a.close()

	inst, err := a.starter.Start(ctx, *workflowID, *entityType, *entityID, actorFrom(*actorID, *actorName))
	if err != nil {
		return err
	}
	return printJSON(stdout, inst)
}

func runCancel(ctx context.Context, cfg Config, args []string, stdout io.Writer) error {
	fs := newFlagSet("cancel")
	instanceID := fs.String("instance", "", "instance ID")
	actorID := fs.String("actor", "", "actor ID (default: system)")
	actorName := fs.String("actor-name", "", "actor display name")
	comment := fs.String("comment", "", "cancellation comment")
	if err := fs.Parse(args); err != nil || *instanceID == "" {
		return errUsage
	}

	a, err := newApp(ctx, cfg, newLogger(cfg.LogLevel))
	if err != nil {
		return err
	}
	defer a.close()

	inst, err := a.starter.Cancel(ctx, *instanceID, actorFrom(*actorID, *actorName), *comment)
	if err != nil {
		return err
	}
	return printJSON(stdout, inst)
}

func runAppetite(ctx context.Context, cfg Config, args []string, stdout io.Writer) error {
	fs := newFlagSet("appetite")
	tenant := fs.String("tenant", "", "tenant (empty for the default tenant)")
	category := fs.String("category", "", "risk category (empty for the global appetite)")
	maxRisk := fs.Int("max", -1, "maximum acceptable risk score")
	list := fs.Bool("list", false, "list appetites for the tenant instead of adding one")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	if !*list && *maxRisk < 0 {
		return errUsage
	}

	a, err := newApp(ctx, cfg, newLogger(cfg.LogLevel))
	if err != nil {
		return err
	}
	defer a.close()

	if *list {
		apps, err := a.store.ListRiskAppetites(ctx, *tenant)
		if err != nil {
			return err
		}
		return printJSON(stdout, apps)
	}

	ra := &schema.RiskAppetite{
		Tenant:            *tenant,
		Category:          *category,
		MaxAcceptableRisk: *maxRisk,
		Active:            true,
	}
	if err := a.addAppetite(ctx, ra); err != nil {
		return err
	}
	return printJSON(stdout, ra)
}

func runEval(_ context.Context, _ Config, args []string, stdin io.Reader, stdout io.Writer) error {
	fs := newFlagSet("eval")
	dialect := fs.String("dialect", "", "expression dialect: condition, expr, cel, jq")
	entity := fs.String("entity", "", "record type name")
	if err := fs.Parse(args); err != nil || fs.NArg() != 2 {
		return errUsage
	}
	attrs, err := readObject(fs.Arg(1), stdin)
	if err != nil {
		return err
	}

	ev, err := newEvaluator()
	if err != nil {
		return err
	}
	doc := &record.Document{Type: *entity, Data: attrs}
	ok, err := ev.Check(context.Background(), *dialect, fs.Arg(0), record.Bind(nil, doc))
	if err != nil {
		return err
	}
	return printJSON(stdout, map[string]any{"result": ok})
}

func runCheck(ctx context.Context, cfg Config, args []string, stdin io.Reader, stdout io.Writer) error {
	fs := newFlagSet("check")
	entity := fs.String("entity", "", "record type name")
	dryRun := fs.Bool("dry-run", false, "evaluate without saving")
	actorID := fs.String("actor", "", "actor ID (default: system)")
	actorName := fs.String("actor-name", "", "actor display name")
	if err := fs.Parse(args); err != nil || fs.NArg() != 1 || *entity == "" {
		return errUsage
	}
	data, err := readObject(fs.Arg(0), stdin)
	if err != nil {
		return err
	}
	doc := &record.Document{Type: *entity, Data: data}

	a, err := newApp(ctx, cfg, newLogger(cfg.LogLevel))
	if err != nil {
		return err
	}
	defer a.close()

	if *dryRun {
		d, err := a.progressor.Preview(ctx, doc)
		if err != nil {
			return err
		}
		return printJSON(stdout, map[string]any{"ready": d.Ready(), "decision": d})
	}

	progressed, err := a.progressor.CheckAndProgress(ctx, doc, actorFrom(*actorID, *actorName))
	if err != nil {
		return err
	}
	return printJSON(stdout, map[string]any{"progressed": progressed})
}

func runSweep(ctx context.Context, cfg Config, args []string, stdout io.Writer) error {
	fs := newFlagSet("sweep")
	dryRun := fs.Bool("dry-run", false, "evaluate without saving")
	cronSpec := fs.String("cron", "", "run on this cron schedule instead of once")
	scheduled := fs.Bool("scheduled", false, "run on the configured sweep_cron schedule")
	recordsDir := fs.String("records", cfg.RecordsDir, "directory holding <type>/<id>.json records")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}

	a, err := newApp(ctx, cfg, newLogger(cfg.LogLevel))
	if err != nil {
		return err
	}
	defer a.close()

	sw := scheduler.NewSweeper(a.store, scheduler.DirLoader{Root: *recordsDir}, a.progressor, a.logger)

	spec := *cronSpec
	if spec == "" && *scheduled {
		spec = cfg.SweepCron
	}
	if spec == "" {
		report, err := sw.Sweep(ctx, *dryRun)
		if err != nil {
			return err
		}
		return printJSON(stdout, report)
	}

	a.startMetrics()
	if err := sw.Start(ctx, spec, *dryRun); err != nil {
		return err
	}
	a.logger.Info("sweeper scheduled", "cron", spec, "dry_run", *dryRun)
	<-ctx.Done()
	return sw.Stop()
}

func runDiagram(ctx context.Context, cfg Config, args []string, stdout io.Writer) error {
	fs := newFlagSet("diagram")
	format := fs.String("format", "ascii", "output format: ascii or mermaid")
	workflowID := fs.String("workflow", "", "workflow ID")
	instanceID := fs.String("instance", "", "instance ID, drawn with its progress")
	if err := fs.Parse(args); err != nil || (*workflowID == "" && *instanceID == "") {
		return errUsage
	}
	if *format != "ascii" && *format != "mermaid" {
		return errUsage
	}

	a, err := newApp(ctx, cfg, newLogger(cfg.LogLevel))
	if err != nil {
		return err
	}
	defer a.close()

	var wf *schema.Workflow
	var inst *schema.WorkflowInstance
	if *instanceID != "" {
		if inst, err = a.store.GetInstanceByID(ctx, *instanceID); err != nil {
			return err
		}
		wf = inst.Workflow
	} else if wf, err = a.store.GetWorkflow(ctx, *workflowID); err != nil {
		return err
	}

	model, err := diagram.Build(wf, inst)
	if err != nil {
		return err
	}
	out := diagram.RenderASCII(model)
	if *format == "mermaid" {
		out = diagram.RenderMermaid(model)
	}
	_, err = io.WriteString(stdout, out)
	return err
}

func runMCP(ctx context.Context, cfg Config, args []string, _ io.Writer) error {
	fs := newFlagSet("mcp")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}

	a, err := newApp(ctx, cfg, newLogger(cfg.LogLevel))
	if err != nil {
		return err
	}
	defer a.close()
	a.startMetrics()

	srv := mcp.NewServer(mcp.ServerDeps{
		Store:      a.store,
		Progressor: a.progressor,
		Checker:    a.checker,
		Logger:     a.logger,
		Version:    version,
	})
	return srv.Serve(ctx)
}

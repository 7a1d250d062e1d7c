package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dvloznov/ledgerbook/internal/app"
	"github.com/dvloznov/ledgerbook/internal/auth"
	"github.com/dvloznov/ledgerbook/internal/config"
	"github.com/dvloznov/ledgerbook/internal/domain"
	"github.com/dvloznov/ledgerbook/internal/logger"
	"github.com/dvloznov/ledgerbook/internal/pipeline"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	if cmd == "help" || cmd == "-h" || cmd == "--help" {
		printUsage()
		return
	}

	bootLog := logger.New()
	cfg, err := config.Load()
	if err != nil {
		bootLog.Fatal().Err(err).Msg("Failed to load config")
	}
	a, err := app.New(context.Background(), cfg)
	if err != nil {
		bootLog.Fatal().Err(err).Msg("Failed to initialise application")
	}
	defer a.Close()

	ctx := logger.WithContext(context.Background(), a.Log)
	args := os.Args[2:]

	switch cmd {
	case "profile":
		err = runProfile(ctx, a, args)
	case "upload":
		err = runUpload(ctx, a, args)
	case "process":
		err = runProcess(ctx, a, args)
	case "status":
		err = runStatus(ctx, a, args)
	case "retry":
		err = runRetry(ctx, a, args)
	case "token":
		err = runToken(a, args)
	case "parse":
		err = runParse(ctx, a, args)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fail(a.Log, cmd, err)
	}
}

func printUsage() {
	fmt.Println("Ledgerbook CLI")
	fmt.Println("\nUsage:")
	fmt.Println("  cli <command> [options]")
	fmt.Println("\nCommands:")
	fmt.Println("  profile   Create a business or personal profile for a user")
	fmt.Println("  upload    Upload a CSV or PDF statement")
	fmt.Println("  process   Run the pipeline for a queued statement")
	fmt.Println("  status    Show a statement's status and progress")
	fmt.Println("  retry     Requeue one statement, or every failed statement with -all")
	fmt.Println("  token     Issue a session token for a user")
	fmt.Println("  parse     Extract and classify a local statement without storing it")
	fmt.Println("  help      Show this help message")
	fmt.Println("\nRun 'cli <command> -h' for more information on a command.")
}

func fail(log zerolog.Logger, cmd string, err error) {
	var verr *domain.ValidationError
	if errors.As(err, &verr) {
		fmt.Fprintf(os.Stderr, "%s: %s\n", cmd, verr.Error())
		os.Exit(2)
	}
	log.Fatal().Err(err).Str("command", cmd).Msg("Command failed")
}

func runProfile(ctx context.Context, a *app.App, args []string) error {
	fs := flag.NewFlagSet("profile", flag.ExitOnError)
	userID := fs.String("user", "", "Owning user ID")
	name := fs.String("name", "", "Profile name")
	business := fs.Bool("business", false, "Create a BUSINESS profile instead of PERSONAL")
	current := fs.Bool("current", false, "Make this the user's current profile")
	fs.Parse(args)

	if *userID == "" || *name == "" {
		return domain.NewValidationError("user", "usage: cli profile -user ID -name NAME [-business] [-current]")
	}

	p := &domain.BusinessProfile{ID: uuid.New().String(), UserID: *userID, Name: *name, Type: domain.ProfilePersonal, Active: true}
	if *business {
		p.Type = domain.ProfileBusiness
	}
	if err := a.Store.CreateProfile(ctx, p); err != nil {
		return err
	}
	if *current {
		if err := a.Store.SaveUser(ctx, &domain.User{ID: *userID, CurrentProfileID: &p.ID}); err != nil {
			return err
		}
	}
	fmt.Printf("Created %s profile %s (%s)\n", p.Type, p.ID, p.Name)
	return nil
}

func runUpload(ctx context.Context, a *app.App, args []string) error {
	fs := flag.NewFlagSet("upload", flag.ExitOnError)
	userID := fs.String("user", "", "Uploading user ID")
	profileID := fs.String("profile", "", "Target profile ID (defaults to the user's current profile)")
	filePath := fs.String("file", "", "Path to a local .csv or .pdf statement")
	mapping := fs.String("mapping", "", `CSV column mapping as JSON, e.g. {"date":"Date","description":"Memo","amount":"Amount"}`)
	process := fs.Bool("process", true, "Process the statement immediately")
	fs.Parse(args)

	if *userID == "" || *filePath == "" {
		return domain.NewValidationError("file", "usage: cli upload -user ID -file PATH [-profile ID] [-mapping JSON]")
	}

	data, err := os.ReadFile(*filePath)
	if err != nil {
		return fmt.Errorf("read %s: %w", *filePath, err)
	}
	m, err := domain.ParseColumnMapping([]byte(strings.TrimSpace(*mapping)))
	if err != nil {
		return err
	}

	if *profileID == "" {
		u, err := a.Store.GetUser(ctx, *userID)
		if err == nil && u.CurrentProfileID != nil {
			*profileID = *u.CurrentProfileID
		}
	}

	intake := pipeline.NewIntake(a.Store, a.Store, a.Objects, a.Log)
	res, err := intake.Upload(ctx, pipeline.UploadRequest{
		UserID:    *userID,
		ProfileID: *profileID,
		FileName:  filepath.Base(*filePath),
		Data:      data,
		Mapping:   m,
	})
	if err != nil {
		return err
	}
	fmt.Printf("Uploaded %s as %s (%d records)\n", filepath.Base(*filePath), res.UploadID, res.RecordCount)

	if !*process {
		return nil
	}
	return processAndReport(ctx, a, res.UploadID)
}

func runProcess(ctx context.Context, a *app.App, args []string) error {
	fs := flag.NewFlagSet("process", flag.ExitOnError)
	id := fs.String("id", "", "Statement ID")
	fs.Parse(args)

	if *id == "" {
		return domain.NewValidationError("id", "usage: cli process -id STATEMENT_ID")
	}
	return processAndReport(ctx, a, *id)
}

func processAndReport(ctx context.Context, a *app.App, id string) error {
	runErr := a.Processor.Process(ctx, id)
	if errors.Is(runErr, domain.ErrStateConflict) {
		return runErr
	}
	// A failed run is recorded on the statement; show it rather than abort.
	if err := printStatus(ctx, a, id); err != nil {
		return err
	}
	return runErr
}

func runStatus(ctx context.Context, a *app.App, args []string) error {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	id := fs.String("id", "", "Statement ID")
	fs.Parse(args)

	if *id == "" {
		return domain.NewValidationError("id", "usage: cli status -id STATEMENT_ID")
	}
	return printStatus(ctx, a, *id)
}

func printStatus(ctx context.Context, a *app.App, id string) error {
	st, err := a.Store.GetStatement(ctx, id)
	if err != nil {
		return err
	}

	fmt.Println("\n=== Statement ===")
	fmt.Printf("ID:        %s\n", st.ID)
	fmt.Printf("File:      %s (%s)\n", st.FileName, st.SourceType)
	fmt.Printf("Profile:   %s\n", st.ProfileID)
	fmt.Printf("Status:    %s\n", st.State.Status)
	fmt.Printf("Stage:     %s\n", st.State.Stage)
	fmt.Printf("Progress:  %d/%d\n", st.ProcessedCount, st.RecordCount)
	if st.ErrorLog != nil {
		fmt.Printf("Errors:\n%s\n", *st.ErrorLog)
	}
	fmt.Println()
	return nil
}

func runRetry(ctx context.Context, a *app.App, args []string) error {
	fs := flag.NewFlagSet("retry", flag.ExitOnError)
	id := fs.String("id", "", "Statement ID to requeue")
	all := fs.Bool("all", false, "Reset every FAILED statement")
	fs.Parse(args)

	tracker := a.Processor.Tracker()
	if *all {
		ids, err := tracker.RetryFailed(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Reset %d failed statements\n", len(ids))
		for _, id := range ids {
			fmt.Printf("  %s\n", id)
		}
		return nil
	}

	if *id == "" {
		return domain.NewValidationError("id", "usage: cli retry -id STATEMENT_ID | -all")
	}
	st, err := a.Store.GetStatement(ctx, *id)
	if err != nil {
		return err
	}
	if err := tracker.Requeue(ctx, st); err != nil {
		return err
	}
	fmt.Printf("Requeued %s\n", st.ID)
	return nil
}

func runToken(a *app.App, args []string) error {
	fs := flag.NewFlagSet("token", flag.ExitOnError)
	userID := fs.String("user", "", "User ID")
	admin := fs.Bool("admin", false, "Issue an admin token")
	fs.Parse(args)

	role := auth.RoleUser
	if *admin {
		role = auth.RoleAdmin
	}
	token, err := a.Sessions.Issue(*userID, role)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

func runParse(ctx context.Context, a *app.App, args []string) error {
	fs := flag.NewFlagSet("parse", flag.ExitOnError)
	filePath := fs.String("file", "", "Path to a local .csv or .pdf statement")
	mapping := fs.String("mapping", "", "CSV column mapping as JSON")
	fs.Parse(args)

	if *filePath == "" {
		return domain.NewValidationError("file", "usage: cli parse -file PATH [-mapping JSON]")
	}
	sourceType, err := domain.SourceTypeFromFilename(*filePath)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(*filePath)
	if err != nil {
		return fmt.Errorf("read %s: %w", *filePath, err)
	}

	var result *domain.ExtractionResult
	switch sourceType {
	case domain.SourceCSV:
		m, err := domain.ParseColumnMapping([]byte(strings.TrimSpace(*mapping)))
		if err != nil {
			return err
		}
		if result, err = pipeline.ParseCSV(data, m); err != nil {
			return err
		}
	case domain.SourcePDF:
		lines, err := pipeline.PDFTextLines(data)
		if err != nil {
			return err
		}
		result = pipeline.ParseStatementText(lines, time.Now().Year())
	}

	classifier := pipeline.NewClassifier(pipeline.DefaultRules, nil, a.Config.Classifier.ReviewThreshold)
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "LINE\tDATE\tAMOUNT\tCATEGORY\tCONF\tDESCRIPTION")
	for _, c := range result.Records {
		cl, _ := classifier.Classify(ctx, c, "", nil)
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%.2f\t%s\n",
			c.Line, c.Date.Format(domain.DateLayout), c.Amount.StringFixed(2), cl.Category, cl.Confidence, c.Description)
	}
	w.Flush()

	fmt.Printf("\n%d records, %d diagnostics\n", len(result.Records), len(result.Diagnostics))
	for _, d := range result.Diagnostics {
		fmt.Printf("  %s\n", d)
	}
	return nil
}

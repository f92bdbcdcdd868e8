package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/google/uuid"

	"github.com/castforge/castforge-backend/internal/config"
	"github.com/castforge/castforge-backend/internal/db"
	"github.com/castforge/castforge-backend/internal/handlers"
	"github.com/castforge/castforge-backend/internal/logger"
	"github.com/castforge/castforge-backend/internal/repos"
	"github.com/castforge/castforge-backend/internal/server"
	"github.com/castforge/castforge-backend/internal/services"
	"github.com/castforge/castforge-backend/internal/types"
)

type app struct {
	log *logger.Logger
	cfg *config.Config

	genRepo      repos.GenerationRepo
	dialogueRepo repos.DialogueRequestRepo
	audioRepo    repos.AudioRequestRepo
	imageRepo    repos.ImageRequestRepo
	videoRepo    repos.VideoOutputRepo

	workflow services.WorkflowService
	handler  *handlers.GenerationHandler
}

func main() {
	var (
		configPath  = flag.String("config", "config/default_config.yaml", "path to YAML config file")
		topic       = flag.String("topic", "", "topic key to generate")
		customTopic = flag.String("custom-topic", "", "free-form topic text (overrides -topic)")
		stockCode   = flag.String("stock-code", "", "stock code for stock topics")
		language    = flag.String("language", "CN", "output language (CN, EN, JP)")
		history     = flag.Bool("history", false, "show recent generations")
		limit       = flag.Int("limit", 10, "rows for -history")
		show        = flag.String("show", "", "show full detail for a generation id")
		resume      = flag.String("resume", "", "resume a generation id from its last checkpoint")
		serve       = flag.Bool("serve", false, "run the HTTP API server")
		addr        = flag.String("addr", ":8080", "listen address for -serve")
	)
	flag.Parse()

	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal("Config load failed", "path", *configPath, "error", err.Error())
	}

	a, err := buildApp(cfg, log)
	if err != nil {
		log.Fatal("Startup failed", "error", err.Error())
	}

	ctx := context.Background()
	switch {
	case *serve:
		a.runServer(*addr)
	case *history:
		a.printHistory(ctx, *limit)
	case *show != "":
		a.printDetail(ctx, *show)
	case *resume != "":
		a.resume(ctx, *resume)
	case *topic != "" || *customTopic != "":
		a.generate(ctx, *topic, *customTopic, *stockCode, *language)
	default:
		flag.Usage()
		os.Exit(2)
	}
}

func buildApp(cfg *config.Config, log *logger.Logger) (*app, error) {
	sqliteService, err := db.NewSQLiteService(cfg.Database.Path, log)
	if err != nil {
		return nil, fmt.Errorf("sqlite init: %w", err)
	}
	if err := sqliteService.AutoMigrateAll(); err != nil {
		return nil, fmt.Errorf("sqlite migration: %w", err)
	}
	theDB := sqliteService.DB()

	genRepo := repos.NewGenerationRepo(theDB, log)
	dialogueRepo := repos.NewDialogueRequestRepo(theDB, log)
	audioRepo := repos.NewAudioRequestRepo(theDB, log)
	imageRepo := repos.NewImageRequestRepo(theDB, log)
	videoRepo := repos.NewVideoOutputRepo(theDB, log)

	gemini, err := services.NewGeminiClient(log)
	if err != nil {
		return nil, err
	}
	tts, err := services.NewElevenLabsClient(log)
	if err != nil {
		return nil, err
	}

	var veo services.VeoClient
	if cfg.Video.Mode == config.VideoModeVeoLoop {
		veo, err = services.NewVeoClient(log)
		if err != nil {
			return nil, err
		}
	}

	tools := services.NewMediaTools(log)
	renderer, err := services.NewRenderer(cfg, tools, log)
	if err != nil {
		return nil, err
	}
	cover := services.NewCoverComposer(cfg.Assets.FontPath, log)

	dialogueService := services.NewDialogueService(cfg, gemini, dialogueRepo, genRepo, log)
	audioService := services.NewAudioService(cfg, tts, tools, audioRepo, genRepo, log)
	imageService := services.NewImageService(cfg, gemini, imageRepo, genRepo, log)
	videoService := services.NewVideoService(cfg, veo, renderer, cover, videoRepo, genRepo, log)

	workflow := services.NewWorkflowService(cfg,
		dialogueService, audioService, imageService, videoService,
		genRepo, dialogueRepo, audioRepo, imageRepo, videoRepo, log)

	handler := handlers.NewGenerationHandler(cfg, workflow,
		genRepo, dialogueRepo, audioRepo, imageRepo, videoRepo, log)

	return &app{
		log:          log,
		cfg:          cfg,
		genRepo:      genRepo,
		dialogueRepo: dialogueRepo,
		audioRepo:    audioRepo,
		imageRepo:    imageRepo,
		videoRepo:    videoRepo,
		workflow:     workflow,
		handler:      handler,
	}, nil
}

func (a *app) runServer(addr string) {
	router := server.NewRouter(server.RouterConfig{GenerationHandler: a.handler})
	a.log.Info("Starting HTTP server", "addr", addr)
	if err := router.Run(addr); err != nil {
		a.log.Fatal("Server exited", "error", err.Error())
	}
}

func (a *app) generate(ctx context.Context, topicKey, customTopic, stockCode, language string) {
	topicName := ""
	switch {
	case customTopic != "":
		topicKey = "custom"
		topicName = customTopic
	default:
		name, err := a.cfg.TopicName(topicKey)
		if err != nil {
			a.log.Fatal("Unknown topic", "topic_key", topicKey, "error", err.Error())
		}
		topicName = name
	}

	gen, err := a.genRepo.Create(ctx, nil, topicKey, topicName, language, stockCode)
	if err != nil {
		a.log.Fatal("Failed to create generation", "error", err.Error())
	}
	a.log.Info("Generation created", "generation_id", gen.ID, "topic", topicName, "language", language)

	videoPath, err := a.workflow.Run(ctx, gen)
	if err != nil {
		a.log.Fatal("Generation failed", "generation_id", gen.ID, "error", err.Error())
	}
	fmt.Printf("Video generated: %s\n", videoPath)
}

func (a *app) resume(ctx context.Context, idStr string) {
	genID, err := uuid.Parse(idStr)
	if err != nil {
		a.log.Fatal("Invalid generation id", "id", idStr, "error", err.Error())
	}

	videoPath, err := a.workflow.Resume(ctx, genID)
	if err != nil {
		a.log.Fatal("Resume failed", "generation_id", genID, "error", err.Error())
	}
	fmt.Printf("Video generated: %s\n", videoPath)
}

func (a *app) printHistory(ctx context.Context, limit int) {
	gens, err := a.genRepo.ListRecent(ctx, nil, limit)
	if err != nil {
		a.log.Fatal("Failed to list generations", "error", err.Error())
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tTOPIC\tLANG\tCREATED\tVIDEO")
	for _, g := range gens {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			g.ID,
			g.Status,
			g.TopicName,
			g.Language,
			g.CreatedAt.Format("2006-01-02 15:04"),
			g.VideoPath,
		)
	}
	w.Flush()
}

func (a *app) printDetail(ctx context.Context, idStr string) {
	genID, err := uuid.Parse(idStr)
	if err != nil {
		a.log.Fatal("Invalid generation id", "id", idStr, "error", err.Error())
	}

	gen, err := a.genRepo.GetByID(ctx, nil, genID)
	if err != nil {
		a.log.Fatal("Lookup failed", "error", err.Error())
	}
	if gen == nil {
		a.log.Fatal("Generation not found", "generation_id", genID)
	}

	fmt.Printf("Generation %s\n", gen.ID)
	fmt.Printf("  Topic:    %s (%s)\n", gen.TopicName, gen.TopicKey)
	fmt.Printf("  Language: %s\n", gen.Language)
	fmt.Printf("  Status:   %s\n", gen.Status)
	if gen.ErrorMessage != "" {
		fmt.Printf("  Error:    %s\n", gen.ErrorMessage)
	}
	if gen.VideoPath != "" {
		fmt.Printf("  Video:    %s\n", gen.VideoPath)
	}

	if req, err := a.dialogueRepo.LatestByGeneration(ctx, nil, genID); err == nil && req != nil {
		fmt.Printf("\nDialogue request: %s\n", outcome(req.Success, req.ErrorMessage))
		if req.Title != "" {
			fmt.Printf("  Title:   %s\n", req.Title)
		}
		if req.Summary != "" {
			fmt.Printf("  Summary: %s\n", req.Summary)
		}
		var lines []types.DialogueLine
		if len(req.DialogueJSON) > 0 && json.Unmarshal(req.DialogueJSON, &lines) == nil {
			fmt.Printf("  Lines:   %d\n", len(lines))
		}
	}

	if req, err := a.audioRepo.LatestByGeneration(ctx, nil, genID); err == nil && req != nil {
		fmt.Printf("\nAudio request: %s\n", outcome(req.Success, req.ErrorMessage))
		fmt.Printf("  Duration: %.1fs\n", req.DurationSeconds)
		if req.AudioPath != "" {
			fmt.Printf("  Path:     %s\n", req.AudioPath)
		}
	}

	if reqs, err := a.imageRepo.ListByGeneration(ctx, nil, genID); err == nil && len(reqs) > 0 {
		fmt.Printf("\nImage requests (%d):\n", len(reqs))
		for _, r := range reqs {
			kind := fmt.Sprintf("image %d", r.ImageIndex)
			if r.IsCover {
				kind = "cover"
			}
			fmt.Printf("  %-8s %s retries=%d\n", kind, outcome(r.Success, r.ErrorMessage), r.RetryCount)
		}
	}

	if out, err := a.videoRepo.LatestByGeneration(ctx, nil, genID); err == nil && out != nil {
		fmt.Printf("\nVideo output: %s\n", outcome(out.Success, out.ErrorMessage))
		if out.Success {
			fmt.Printf("  Path:  %s\n", out.VideoPath)
			fmt.Printf("  Size:  %d bytes\n", out.FileSizeBytes)
			fmt.Printf("  Res:   %s\n", out.Resolution)
		}
	}
}

func outcome(success bool, errorMessage string) string {
	if success {
		return "ok"
	}
	if errorMessage != "" {
		if len(errorMessage) > 120 {
			errorMessage = errorMessage[:120] + "..."
		}
		return "failed: " + strings.TrimSpace(errorMessage)
	}
	return "failed"
}

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/kpauljoseph/ankisnap/internal/anki"
	"github.com/kpauljoseph/ankisnap/internal/browser"
	"github.com/kpauljoseph/ankisnap/internal/capture"
	"github.com/kpauljoseph/ankisnap/internal/config"
	"github.com/kpauljoseph/ankisnap/internal/guided"
	"github.com/kpauljoseph/ankisnap/internal/metrics"
	"github.com/kpauljoseph/ankisnap/internal/notify"
	"github.com/kpauljoseph/ankisnap/internal/panel"
	"github.com/kpauljoseph/ankisnap/internal/pdf"
	"github.com/kpauljoseph/ankisnap/internal/scanner"
	"github.com/kpauljoseph/ankisnap/internal/selection"
	"github.com/kpauljoseph/ankisnap/internal/server"
	"github.com/kpauljoseph/ankisnap/internal/store"
	"github.com/kpauljoseph/ankisnap/pkg/logger"
	"github.com/kpauljoseph/ankisnap/pkg/models"
	"github.com/kpauljoseph/ankisnap/pkg/updater"
	"github.com/kpauljoseph/ankisnap/pkg/utils"
	"github.com/kpauljoseph/ankisnap/pkg/version"
)

type app struct {
	cfg *config.Config
	log *logger.Logger
}

func (a *app) run(cmd string, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case "serve":
		return a.serve(ctx)
	case "capture":
		return a.capture(ctx, args)
	case "decks", "cards", "select", "clear", "guided":
		return a.withPanel(func(p *panel.Panel) error {
			return a.panelCommand(ctx, p, cmd, args)
		})
	case "pdfs":
		return a.pdfs(ctx, args)
	case "version":
		return a.version(ctx, args)
	}
	return fmt.Errorf("unknown command %q", cmd)
}

func (a *app) notifier() notify.Notifier {
	logNotifier := notify.NewLogNotifier(a.log)
	if a.cfg.Notifications == config.NotificationsLog {
		return logNotifier
	}
	return notify.Fallback{notify.NewDesktopNotifier(a.log), logNotifier}
}

func (a *app) ankiService(m *metrics.Metrics) *anki.Service {
	return anki.NewService(a.log,
		anki.WithURL(a.cfg.AnkiConnectURL),
		anki.WithMetrics(m),
		anki.WithBreaker(a.cfg.Breaker.MaxFailures, a.cfg.Breaker.OpenTimeout),
	)
}

func (a *app) sequencer(st store.Store, n notify.Notifier, m *metrics.Metrics) *guided.Sequencer {
	return guided.NewSequencer(st, n, a.log,
		guided.WithPreviewLength(a.cfg.Guided.PreviewLength),
		guided.WithMetrics(m),
	)
}

func (a *app) serve(ctx context.Context) error {
	st, err := store.OpenFileStore(a.cfg.StateFile, a.log)
	if err != nil {
		return err
	}
	defer st.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	n := a.notifier()
	service := a.ankiService(m)
	if err := service.CheckConnection(ctx); err != nil {
		a.log.Info("%v", err)
	}

	pages := pdf.NewPageCapturer(a.cfg.Capture.PDFDPI, a.log)
	mux := capture.NewMux(nil)
	var tabs server.TabFinder

	host, err := browser.NewHost(ctx, a.cfg.ChromeURL, a.log,
		browser.WithSelectorOptions(
			selection.WithMinSelection(a.cfg.Capture.MinSelection),
			selection.WithSettleDelay(a.cfg.Capture.SettleDelay),
		))
	if err != nil {
		a.log.Info("Browser unavailable, only PDF pages can be captured: %v", err)
	} else {
		defer host.Close()
		mux = capture.NewMux(host)
		tabs = host
	}
	mux.Handle(pdf.Scheme, pages)

	orch := capture.NewOrchestrator(mux, service, st, a.sequencer(st, n, m), n, a.log,
		capture.WithMetrics(m))
	if host != nil {
		host.OnOutcome(orch.HandleOutcome)
		orch.SetSignaler(host)
	}

	cancel := st.Subscribe(func(ch store.Change) {
		if ch.Key != models.SelectedCardKey {
			return
		}
		if ch.Removed() {
			a.log.Info("Selected card cleared")
			return
		}
		var card models.Card
		if err := ch.Decode(&card); err == nil {
			a.log.Info("Selected card %d: %s", card.CardID, utils.Preview(card.Question, a.cfg.Guided.PreviewLength))
		}
	})
	defer cancel()

	return server.New(orch, tabs, reg, a.log).ListenAndServe(ctx, a.cfg.ListenAddr)
}

func (a *app) capture(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("capture", flag.ExitOnError)
	tab := fs.String("tab", "", "tab id, or pdf:<path>#<page> (default: active tab)")
	fs.Parse(args)

	body, err := json.Marshal(server.CaptureCommand{TabID: *tab})
	if err != nil {
		return err
	}

	url := "http://" + a.cfg.ListenAddr + "/v1/commands/capture-screenshot"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("coordinator not reachable at %s (is 'ankisnap serve' running?): %w", a.cfg.ListenAddr, err)
	}
	defer resp.Body.Close()

	var out models.Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	if !out.Success {
		return fmt.Errorf("%s: %s", out.Error, out.Detail)
	}
	fmt.Println("Selection started. Drag over the page, or press Escape to cancel.")
	return nil
}

func (a *app) withPanel(fn func(p *panel.Panel) error) error {
	st, err := store.OpenFileStore(a.cfg.StateFile, a.log)
	if err != nil {
		return err
	}
	defer st.Close()

	service := a.ankiService(nil)
	return fn(panel.New(service, st, a.sequencer(st, a.notifier(), nil), a.log))
}

func (a *app) panelCommand(ctx context.Context, p *panel.Panel, cmd string, args []string) error {
	switch cmd {
	case "decks":
		if err := p.CheckConnection(ctx); err != nil {
			return err
		}
		decks, err := p.Decks(ctx)
		if err != nil {
			return err
		}
		for _, d := range decks {
			fmt.Println(d)
		}
		return nil

	case "cards":
		fs := flag.NewFlagSet("cards", flag.ExitOnError)
		deck := fs.String("deck", "", "deck name")
		withoutImages := fs.Bool("without-images", false, "only cards whose Front has no image")
		fs.Parse(args)
		if *deck == "" {
			return errors.New("-deck is required")
		}

		cards, err := p.Cards(ctx, *deck, *withoutImages)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "CARD\tNOTE\tIMAGE\tFRONT")
		for _, c := range cards {
			fmt.Fprintf(w, "%d\t%d\t%t\t%s\n", c.CardID, c.NoteID, anki.CardHasImage(c),
				utils.Preview(c.Question, a.cfg.Guided.PreviewLength))
		}
		return w.Flush()

	case "select":
		fs := flag.NewFlagSet("select", flag.ExitOnError)
		deck := fs.String("deck", "", "deck name")
		cardID := fs.Int64("card", 0, "card id")
		fs.Parse(args)
		if *deck == "" || *cardID == 0 {
			return errors.New("-deck and -card are required")
		}

		card, err := p.SelectCard(ctx, *deck, *cardID)
		if err != nil {
			return err
		}
		fmt.Printf("Selected card %d: %s\n", card.CardID, utils.Preview(card.Question, a.cfg.Guided.PreviewLength))
		return nil

	case "clear":
		return p.ClearSelection()

	case "guided":
		return a.guided(ctx, p, args)
	}
	return fmt.Errorf("unknown command %q", cmd)
}

func (a *app) guided(ctx context.Context, p *panel.Panel, args []string) error {
	if len(args) == 0 {
		return errors.New("expected start, stop or status")
	}

	switch args[0] {
	case "start":
		fs := flag.NewFlagSet("guided start", flag.ExitOnError)
		deck := fs.String("deck", "", "deck name")
		fs.Parse(args[1:])
		if *deck == "" {
			return errors.New("-deck is required")
		}

		state, err := p.StartGuided(ctx, *deck)
		if errors.Is(err, models.ErrEmptyQueue) {
			fmt.Printf("All cards in %s already have images.\n", *deck)
			return nil
		}
		if err != nil {
			return err
		}
		fmt.Printf("Guided mode started: %d card(s) in %s\n", state.Total(), *deck)
		return nil

	case "stop":
		return p.StopGuided()

	case "status":
		status, err := p.GuidedStatus()
		if err != nil {
			return err
		}
		if !status.Active {
			fmt.Println("Guided mode is not active.")
			return nil
		}
		fmt.Printf("%s: card %d of %d\n", status.DeckName, status.Position, status.Total)
		if status.Current != nil {
			fmt.Printf("Current: %s\n", utils.Preview(status.Current.Question, a.cfg.Guided.PreviewLength))
		}
		return nil
	}
	return fmt.Errorf("unknown guided command %q", args[0])
}

func (a *app) pdfs(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("pdfs", flag.ExitOnError)
	dir := fs.String("dir", ".", "directory to scan")
	fs.Parse(args)

	files, err := scanner.New(a.log).FindPDFs(ctx, *dir)
	if err != nil {
		return err
	}

	for _, f := range files {
		pages, err := pdf.Pages(f.AbsolutePath)
		if err != nil {
			a.log.Info("Skipping %s: %v", f.RelativePath, err)
			continue
		}
		for _, page := range pages {
			size, err := pdf.PageSize(page)
			if err != nil {
				continue
			}
			fmt.Printf("%s\t%.0fx%.0f pt\n", page.TabID(), size.Width, size.Height)
		}
	}
	return nil
}

func (a *app) version(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("version", flag.ExitOnError)
	check := fs.Bool("check", false, "check for a newer release")
	fs.Parse(args)

	fmt.Print(version.GetDetailedVersionInfo())
	if !*check {
		return nil
	}

	info, err := updater.NewChecker(a.log).CheckForUpdates(ctx)
	if err != nil {
		return err
	}
	if info.IsAvailable {
		fmt.Printf("Update available: %s -> %s\n%s\n", info.CurrentVersion, info.LatestVersion, info.DownloadURL)
	} else {
		fmt.Println("You are running the latest version.")
	}
	return nil
}

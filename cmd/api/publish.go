package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/quillpress/articles/internal/article"
	"github.com/quillpress/articles/internal/events"
	"github.com/quillpress/articles/internal/notify"
)

func publishCmd() *cobra.Command {
	var title, description, imagePath string

	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Upload an image and store an article",
		Long: `Fill a create-article form from flags and publish it: the image is
uploaded with progress, then the article record is stored.`,
		Example: `  articles publish --title Hello --description World --image ./cat.png`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			return publish(ctx, cmd.OutOrStdout(), cmd.ErrOrStderr(), title, description, imagePath)
		},
	}

	cmd.Flags().StringVarP(&title, "title", "t", "", "article title")
	cmd.Flags().StringVarP(&description, "description", "d", "", "article description")
	cmd.Flags().StringVarP(&imagePath, "image", "i", "", "path to the image file")
	return cmd
}

func publish(ctx context.Context, stdout, stderr io.Writer, title, description, imagePath string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.close()

	form := article.NewForm(time.Now())
	form.SetTitle(title)
	form.SetDescription(description)
	if imagePath != "" {
		img, err := article.ImageFromFile(imagePath)
		if err != nil {
			return err
		}
		form.SetImage(img)
	}

	bus := events.NewLocalBus()
	defer bus.Close()

	subCtx, stop := context.WithCancel(ctx)
	ch, err := bus.Subscribe(subCtx, form.ID())
	if err != nil {
		stop()
		return err
	}
	printed := make(chan struct{})
	go func() {
		defer close(printed)
		printEvents(stdout, ch)
	}()

	pub := a.publisher(notify.NewBusNotifier(bus, log), notify.NewWriterAlerter(stderr), article.Options{Bus: bus})
	attempt, err := pub.Start(ctx, form)
	if err != nil {
		stop()
		<-printed
		return err
	}
	rec, err := attempt.Wait(ctx)

	// The terminal stage is the last event of an attempt.
	select {
	case <-printed:
	case <-time.After(printGrace):
	}
	stop()
	<-printed

	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "article %s: %s\n", rec.ID, rec.ImageURL)
	return nil
}

// printGrace bounds how long publish waits for queued events to be printed
// once the attempt is over.
const printGrace = 5 * time.Second

// printEvents writes progress changes and toasts until a terminal stage
// arrives or ch is closed.
func printEvents(w io.Writer, ch <-chan events.Event) {
	last := 0
	for ev := range ch {
		switch ev.Type {
		case events.TypeProgress:
			var p struct {
				Progress int `json:"progress"`
			}
			if json.Unmarshal(ev.Data, &p) != nil || p.Progress == last {
				continue
			}
			last = p.Progress
			if p.Progress > 0 {
				fmt.Fprintln(w, article.ProgressText(p.Progress))
			}
		case events.TypeToast:
			var n notify.Notification
			if json.Unmarshal(ev.Data, &n) != nil {
				continue
			}
			fmt.Fprintf(w, "[%s] %s\n", n.Level, n.Message)
		case events.TypeStage:
			var s struct {
				Stage article.Stage `json:"stage"`
			}
			if json.Unmarshal(ev.Data, &s) == nil && s.Stage.Terminal() {
				return
			}
		}
	}
}

package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"genai_studio/config"
	"genai_studio/export"
	"genai_studio/generator"
	"genai_studio/history"
	"genai_studio/server"
)

func generateCmd(appFn func() *app) *cobra.Command {
	form := generator.NewForm()
	var out string
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate content for a topic and print the markdown",
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFn()
			if _, ok := a.ids.Current(); !ok && a.cfg.Backend.Mode == config.ModeHTTP {
				return fmt.Errorf("generate: %w", errNeedUser)
			}
			req, err := form.Submit()
			if err != nil {
				return err
			}
			res, err := a.backend.Generate(cmd.Context(), req)
			if err != nil {
				return err
			}
			if out != "" {
				if err := os.WriteFile(out, []byte(res.Answer+"\n"), 0o644); err != nil {
					return err
				}
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), res.Answer)
			}
			printAnalytics(cmd, res.Analytics)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&form.Topic, "topic", "", "what to write about (required)")
	f.StringVar(&form.Tone, "tone", form.Tone, "tone of voice")
	f.StringVar(&form.ContentType, "type", form.ContentType, "content type, e.g. blog post or tweet")
	f.StringVar(&form.TargetAudience, "audience", form.TargetAudience, "target audience")
	f.StringVar(&form.Language, "lang", form.Language, "output language")
	f.StringVarP(&out, "out", "o", "", "write the markdown to this file")
	return cmd
}

var errNeedUser = errors.New("sign in with --user first")

func printAnalytics(cmd *cobra.Command, an generator.Analytics) {
	fmt.Fprintf(cmd.ErrOrStderr(), "words %d · %d min read · readability %d · %s\n",
		an.WordCount, an.ReadingTime, an.ReadabilityScore, an.Sentiment)
}

func imagesCmd(appFn func() *app) *cobra.Command {
	var topic string
	var page int
	cmd := &cobra.Command{
		Use:   "images",
		Short: "List related images for a topic",
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFn()
			if a.images == nil {
				return fmt.Errorf("images need backend.mode %s", config.ModeHTTP)
			}
			urls, err := a.images.Images(cmd.Context(), topic, page)
			if err != nil {
				return err
			}
			for _, u := range urls {
				fmt.Fprintln(cmd.OutOrStdout(), u)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&topic, "topic", "", "topic to search for")
	cmd.Flags().IntVar(&page, "page", 1, "page number, starting at 1")
	_ = cmd.MarkFlagRequired("topic")
	return cmd
}

func historyCmd(appFn func() *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List or delete past generations",
	}
	list := &cobra.Command{
		Use:   "list",
		Short: "List the last generations, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := appFn().historyStore()
			if err != nil {
				return err
			}
			items, cached := store.List(cmd.Context())
			if !cached {
				if items, err = store.Refresh(cmd.Context()); err != nil {
					return err
				}
			}
			printHistory(cmd, items)
			return nil
		},
	}
	del := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete one past generation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := appFn().historyStore()
			if err != nil {
				return err
			}
			if err := store.Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "deleted", args[0])
			return nil
		},
	}
	cmd.AddCommand(list, del)
	return cmd
}

// previewLimit caps the answer preview in history listings, in bytes.
const previewLimit = 60

func printHistory(cmd *cobra.Command, items []history.Item) {
	if len(items) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "no history yet")
		return
	}
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCREATED\tTYPE\tTOPIC\tPREVIEW")
	for _, it := range items {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", it.ID, it.CreatedAt.Local().Format("2006-01-02 15:04"), it.ContentType, it.Topic,
			generator.Digest(it.Answer, previewLimit))
	}
	_ = tw.Flush()
}

func uploadCmd(appFn func() *app) *cobra.Command {
	return &cobra.Command{
		Use:   "upload <file>",
		Short: "Add a .pdf, .txt or .md file to the knowledge base",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFn()
			if a.client == nil {
				return fmt.Errorf("upload needs backend.mode %s", config.ModeHTTP)
			}
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			n, err := a.client.UploadKnowledge(cmd.Context(), filepath.Base(args[0]), f)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Added %d knowledge chunks.\n", n)
			return nil
		},
	}
}

func exportCmd(appFn func() *app) *cobra.Command {
	var format, title, dir string
	cmd := &cobra.Command{
		Use:   "export <markdown-file>",
		Short: "Export a markdown file as html, doc or pdf",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFn()
			fm, err := export.ParseFormat(format)
			if err != nil {
				return err
			}
			src, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			if dir == "" {
				dir = a.cfg.Export.Dir
			}
			path, err := a.exporter.ExportTo(cmd.Context(), fm, string(src), title, dir)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", string(export.FormatHTML), "html, doc or pdf")
	cmd.Flags().StringVar(&title, "title", "", "document title (defaults to the first heading)")
	cmd.Flags().StringVar(&dir, "dir", "", "output directory (defaults to export.dir)")
	return cmd
}

func serveCmd(appFn func() *app) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a local backend for development",
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFn()
			opts := server.Options{
				Secret:          a.cfg.Auth.Secret,
				RateLimit:       a.cfg.Server.RateLimit,
				RateLimitWindow: a.cfg.Server.RateLimitEvery,
				CallTimeout:     a.cfg.API.Timeout,
				Logger:          a.log,
			}
			// Serving the HTTP client from itself would loop.
			if a.cfg.Backend.Mode == config.ModeDirect {
				opts.Backend = a.backend
			}
			srv, err := server.New(opts)
			if err != nil {
				return err
			}
			if addr == "" {
				addr = a.cfg.Server.Addr
			}
			return srv.ListenAndServe(cmd.Context(), addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (defaults to server.addr)")
	return cmd
}

func shellCmd(appFn func() *app) *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Open an interactive authoring session",
		RunE: func(cmd *cobra.Command, args []string) error {
			return newShell(appFn(), cmd.InOrStdin(), cmd.OutOrStdout()).Run(cmd.Context())
		},
	}
}

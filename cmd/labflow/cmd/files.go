package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jmcleod/labflow/protocol"
)

var (
	downloadFallback string
	fetchOut         string
	uploadFile       string
	uploadFileField  string
	uploadFields     []string
)

var downloadCmd = &cobra.Command{
	Use:   "download <path>",
	Short: "Download a file into the download directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(a *app) error {
			fallback := downloadFallback
			if fallback == "" {
				fallback = filepath.Base(args[0])
			}
			d, err := a.client.DownloadAsFile(cmd.Context(), args[0], a.sessions.Token(), fallback)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "saved %s to %s\n", d.Filename, d.Location)
			return nil
		})
	},
}

var fetchCmd = &cobra.Command{
	Use:   "fetch <path>",
	Short: "Fetch a binary payload to stdout or a file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(a *app) error {
			b, err := a.client.FetchBinary(cmd.Context(), args[0], a.sessions.Token())
			if err != nil {
				return err
			}
			a.logger.Debug().
				Str("filename", b.Filename).
				Str("content_type", b.ContentType).
				Int("bytes", len(b.Data)).
				Msg("fetched")
			if fetchOut == "" || fetchOut == "-" {
				_, err = cmd.OutOrStdout().Write(b.Data)
				return err
			}
			return os.WriteFile(fetchOut, b.Data, 0o600)
		})
	},
}

var uploadCmd = &cobra.Command{
	Use:   "upload <path>",
	Short: "Upload a file with optional form fields",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		form := protocol.NewForm()
		for _, kv := range uploadFields {
			k, v, ok := strings.Cut(kv, "=")
			if !ok || k == "" {
				return fmt.Errorf("invalid --field %q, want key=value", kv)
			}
			form.AddField(k, v)
		}
		if uploadFile != "" {
			f, err := os.Open(uploadFile)
			if err != nil {
				return err
			}
			defer f.Close()
			form.AddFile(uploadFileField, filepath.Base(uploadFile), f)
		}

		return withApp(cmd, func(a *app) error {
			data, err := protocol.UploadMultipart[json.RawMessage](cmd.Context(), a.client, args[0], a.sessions.Token(), form)
			if err != nil {
				return err
			}
			if len(data) > 0 {
				fmt.Fprintln(cmd.OutOrStdout(), string(data))
			}
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(downloadCmd, fetchCmd, uploadCmd)
	downloadCmd.Flags().StringVar(&downloadFallback, "fallback", "", "Filename used when the server does not name the file")
	fetchCmd.Flags().StringVarP(&fetchOut, "out", "o", "", "Write the payload to this file instead of stdout")
	uploadCmd.Flags().StringVarP(&uploadFile, "file", "f", "", "File to upload")
	uploadCmd.Flags().StringVar(&uploadFileField, "file-field", "file", "Form field name for the file")
	uploadCmd.Flags().StringArrayVar(&uploadFields, "field", nil, "Extra form field as key=value (repeatable)")
}

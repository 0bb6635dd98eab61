package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"

	"andstatus/internal/editor"
	"andstatus/internal/models"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var draftCmd = &cobra.Command{
	Use:   "draft",
	Short: "Edit the draft of the configured account",
}

var draftSaveCmd = &cobra.Command{
	Use:   "save",
	Short: "Save a draft and keep it open in the editor",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDraft(cmd, models.StatusDraft)
	},
}

var draftSendCmd = &cobra.Command{
	Use:   "send",
	Short: "Save a draft and queue it for sending",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDraft(cmd, models.StatusSending)
	},
}

var draftDiscardCmd = &cobra.Command{
	Use:   "discard",
	Short: "Delete a draft",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDraft(cmd, models.StatusDeleted)
	},
}

var draftShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the draft currently being edited",
	Args:  cobra.NoArgs,
	RunE:  runDraftShow,
}

func init() {
	for _, c := range []*cobra.Command{draftSaveCmd, draftSendCmd, draftDiscardCmd} {
		c.Flags().Int64("id", 0, "local id of the draft; 0 edits the current draft")
	}
	for _, c := range []*cobra.Command{draftSaveCmd, draftSendCmd} {
		c.Flags().String("body", "", "message body")
		c.Flags().Int64("reply-to", 0, "local id of the message replied to")
		c.Flags().Int64("to", 0, "local id of the recipient of a direct message")
		c.Flags().String("media", "", "URI of an image to attach")
	}
	draftCmd.AddCommand(draftSaveCmd, draftSendCmd, draftDiscardCmd, draftShowCmd)
	rootCmd.AddCommand(draftCmd)
}

// logSendQueue stands in for the sending service: it only records the
// command, the message stays in the Sending state.
var logSendQueue = editor.SendQueueFunc(func(ctx context.Context, cmd editor.SendCommand) error {
	log.Info().Str("account", cmd.Account).Int64("msg_id", cmd.MsgID).Msg("Queued for sending")
	return nil
})

func newSaver(a *app) *editor.Saver {
	return editor.NewSaver(a.store, a.resolver, a.state.PrefStore(), logSendQueue, nil)
}

func runDraft(cmd *cobra.Command, status models.DownloadStatus) error {
	ctx := cmd.Context()
	a, err := openAppFor(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	saver := newSaver(a)

	id, _ := cmd.Flags().GetInt64("id")
	var d editor.Data
	if id == 0 {
		d, err = saver.CurrentDraft(ctx, a.account)
	} else {
		d, err = saver.Load(ctx, a.account, id)
		if err == nil && d.MsgID == 0 {
			err = errors.New("message is not an editable draft")
		}
	}
	if err != nil {
		return err
	}

	if f := cmd.Flags().Lookup("body"); f != nil && f.Changed {
		d.Body = f.Value.String()
	}
	if f := cmd.Flags().Lookup("media"); f != nil && f.Changed {
		d.MediaURI = f.Value.String()
	}
	if cmd.Flags().Changed("reply-to") {
		d.InReplyToID, _ = cmd.Flags().GetInt64("reply-to")
	}
	if cmd.Flags().Changed("to") {
		d.RecipientID, _ = cmd.Flags().GetInt64("to")
	}

	if status == models.StatusDeleted && d.MsgID == 0 {
		return errors.New("no draft to discard")
	}
	d.Status = status
	d.BeingEdited = status == models.StatusDraft

	saved, err := saver.Save(ctx, d, nil)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), saved)
}

func runDraftShow(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openAppFor(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	d, err := newSaver(a).CurrentDraft(ctx, a.account)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), d)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

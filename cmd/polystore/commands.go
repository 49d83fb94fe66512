package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/adrianmcphee/polystore"
)

func analyzeCmd() *cobra.Command {
	var (
		comment string
		ratio   float64
	)

	cmd := &cobra.Command{
		Use:   "analyze [file|-]",
		Short: "Analyze a JSON document without storing it",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, logger, err := loadEnv()
			if err != nil {
				return err
			}
			defer logger.Sync()

			payload, err := readPayload(cmd, args)
			if err != nil {
				return commandError(err)
			}
			opts := polystore.AnalyzeOptions{Comment: comment}
			if cmd.Flags().Changed("ratio") {
				opts.ReadWriteRatio = &ratio
			}

			result, err := polystore.NewAnalyzer(logger, nil).Analyze(payload, opts)
			if err != nil {
				return commandError(err)
			}
			return printJSON(cmd, result)
		},
	}

	cmd.Flags().StringVar(&comment, "comment", "", "how the data will be used")
	cmd.Flags().Float64Var(&ratio, "ratio", 0, "expected read/write ratio")
	return cmd
}

func storeCmd() *cobra.Command {
	var (
		tags    []string
		backend string
		comment string
		ratio   float64
	)

	cmd := &cobra.Command{
		Use:   "store [file|-]",
		Short: "Analyze and store a JSON document",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := readPayload(cmd, args)
			if err != nil {
				return commandError(err)
			}
			req := polystore.StoreRequest{
				OwnerID: ownerID,
				Payload: payload,
				Tags:    tags,
				Comment: comment,
			}
			if cmd.Flags().Changed("ratio") {
				req.ReadWriteRatio = &ratio
			}
			if backend != "" {
				req.ForceBackend, err = polystore.ParseBackendType(backend)
				if err != nil {
					return commandError(err)
				}
			}

			router, logger, err := openRouter(cmd.Context(), nil)
			if err != nil {
				return err
			}
			defer logger.Sync()
			defer router.Close()

			result, err := router.Store(cmd.Context(), req)
			if err != nil {
				return commandError(err)
			}
			return printJSON(cmd, result)
		},
	}

	cmd.Flags().StringSliceVar(&tags, "tag", nil, "tag to attach (repeatable)")
	cmd.Flags().StringVar(&backend, "backend", "", "force the backend (sql or nosql)")
	cmd.Flags().StringVar(&comment, "comment", "", "how the data will be used")
	cmd.Flags().Float64Var(&ratio, "ratio", 0, "expected read/write ratio")
	return cmd
}

func getCmd() *cobra.Command {
	var payloadOnly bool

	cmd := &cobra.Command{
		Use:   "get [doc-id]",
		Short: "Retrieve a stored document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			router, logger, err := openRouter(cmd.Context(), nil)
			if err != nil {
				return err
			}
			defer logger.Sync()
			defer router.Close()

			doc, err := router.Retrieve(cmd.Context(), args[0], ownerID)
			if err != nil {
				return commandError(err)
			}
			if payloadOnly {
				return printJSON(cmd, doc.Payload)
			}
			return printJSON(cmd, doc)
		},
	}

	cmd.Flags().BoolVar(&payloadOnly, "payload", false, "print only the payload")
	return cmd
}

func listCmd() *cobra.Command {
	var (
		backend string
		limit   int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the owner's documents, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			router, logger, err := openRouter(cmd.Context(), nil)
			if err != nil {
				return err
			}
			defer logger.Sync()
			defer router.Close()

			entries, err := router.List(cmd.Context(), ownerID, polystore.BackendType(backend), limit)
			if err != nil {
				return commandError(err)
			}
			if len(entries) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No documents found")
				return nil
			}
			for _, e := range entries {
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %-5s  %3d%%  %s\n", e.DocID, e.Backend, e.Analysis.Confidence, e.CreatedAt.Format("2006-01-02 15:04:05"))
			}
			fmt.Fprintf(cmd.OutOrStdout(), "\nTotal: %d documents\n", len(entries))
			return nil
		},
	}

	cmd.Flags().StringVar(&backend, "backend", "", "only list documents in this backend (sql or nosql)")
	cmd.Flags().IntVar(&limit, "limit", polystore.DefaultListLimit, "maximum number of documents")
	return cmd
}

func deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete [doc-id]",
		Short: "Delete a stored document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			router, logger, err := openRouter(cmd.Context(), nil)
			if err != nil {
				return err
			}
			defer logger.Sync()
			defer router.Close()

			if _, err := router.Delete(cmd.Context(), args[0], ownerID); err != nil {
				return commandError(err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
			return nil
		},
	}
}

func repairCmd() *cobra.Command {
	var (
		dryRun bool
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "repair",
		Short: "Re-index orphaned documents and report inconsistencies",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			router, logger, err := openRouter(cmd.Context(), nil)
			if err != nil {
				return err
			}
			defer logger.Sync()
			defer router.Close()

			report, err := router.Repair(cmd.Context(), dryRun)
			if err != nil {
				return commandError(err)
			}
			if asJSON {
				return printJSON(cmd, report)
			}

			fmt.Fprintln(cmd.OutOrStdout(), report.String())
			for _, id := range report.Reindexed {
				fmt.Fprintf(cmd.OutOrStdout(), "  reindexed  %s\n", id)
			}
			for _, t := range report.OrphanTables {
				fmt.Fprintf(cmd.OutOrStdout(), "  orphan     %s %v\n", t.Table, t.Owners)
			}
			for _, id := range report.Dangling {
				fmt.Fprintf(cmd.OutOrStdout(), "  dangling   %s\n", id)
			}
			for _, e := range report.Errors {
				fmt.Fprintf(cmd.OutOrStdout(), "  error      %s\n", e)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report without writing the directory")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the report as JSON")
	return cmd
}

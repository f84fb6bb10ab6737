package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/caio-sobreiro/dicomkit/client"
	"github.com/caio-sobreiro/dicomkit/dicom"
	"github.com/caio-sobreiro/dicomkit/types"
)

var findModels = map[string]string{
	"patient":  types.PatientRootQueryRetrieveInformationModelFind,
	"study":    types.StudyRootQueryRetrieveInformationModelFind,
	"worklist": types.ModalityWorklistInformationModelFind,
}

type findFlags struct {
	model string
	level string
	keys  []string
	limit int
}

func newFindCmd(root *rootOptions) *cobra.Command {
	peer := &peerFlags{}
	flags := &findFlags{}
	cmd := &cobra.Command{
		Use:   "find",
		Short: "Query a peer with C-FIND",
		Long: `Send a C-FIND and print each match. Keys are given as gggg,eeee=value;
a key without a value is returned by the peer without constraining the match.`,
		Example: `  dicomkit find --level STUDY -k 0010,0010=DOE* -k 0020,000D
  dicomkit find --model worklist -k 0008,0060=CT`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := peer.apply(root.cfg)
			if err != nil {
				return err
			}
			model, ok := findModels[strings.ToLower(flags.model)]
			if !ok {
				return fmt.Errorf("unknown information model %q", flags.model)
			}
			identifier, err := buildIdentifier(flags.keys)
			if err != nil {
				return err
			}
			if model != types.ModalityWorklistInformationModelFind {
				level, ok := types.ParseQueryLevel(flags.level)
				if !ok {
					return fmt.Errorf("unknown query level %q", flags.level)
				}
				identifier.SetString(dicom.QueryRetrieveLevel, dicom.VR_CS, string(level))
			}

			assoc, err := client.Connect(cmd.Context(), cfg.Remote.Address, cfg.ToClientConfig(root.logger))
			if err != nil {
				return err
			}
			defer assoc.Close()

			out := cmd.OutOrStdout()
			n := 0
			result, err := assoc.Find(cmd.Context(), &client.FindRequest{SOPClassUID: model, Identifier: identifier},
				func(match *dicom.Dataset) bool {
					n++
					fmt.Fprintf(out, "# match %d\n", n)
					printDataset(out, match, 1)
					return flags.limit <= 0 || n < flags.limit
				})
			if err != nil {
				return err
			}
			if result.Warning != nil {
				root.logger.Warn("C-FIND completed with warning", "status", fmt.Sprintf("0x%04X", result.Status))
			}
			fmt.Fprintf(out, "%d matches, status 0x%04X\n", n, result.Status)
			return nil
		},
	}
	peer.register(cmd)
	cmd.Flags().StringVar(&flags.model, "model", "study", "Information model (patient, study, worklist)")
	cmd.Flags().StringVarP(&flags.level, "level", "l", "STUDY", "Query/Retrieve level")
	cmd.Flags().StringArrayVarP(&flags.keys, "key", "k", nil, "Matching or return key gggg,eeee[=value]")
	cmd.Flags().IntVar(&flags.limit, "limit", 0, "Cancel the query after this many matches")
	return cmd
}

// buildIdentifier turns gggg,eeee[=value] arguments into a query dataset.
func buildIdentifier(keys []string) (*dicom.Dataset, error) {
	ds := dicom.NewDataset()
	for _, key := range keys {
		raw, value, _ := strings.Cut(key, "=")
		tag, err := parseTag(raw)
		if err != nil {
			return nil, err
		}
		vr, ok := dicom.DefaultDictionary.LookupVR(tag)
		if !ok {
			vr = dicom.VR_LO
		}
		if value == "" {
			ds.SetString(tag, vr)
			continue
		}
		ds.SetString(tag, vr, strings.Split(value, "\\")...)
	}
	return ds, nil
}

func parseTag(s string) (dicom.Tag, error) {
	s = strings.Trim(strings.TrimSpace(s), "()")
	group, element, ok := strings.Cut(s, ",")
	if !ok && len(s) == 8 {
		group, element, ok = s[:4], s[4:], true
	}
	if !ok {
		return dicom.Tag{}, fmt.Errorf("invalid tag %q", s)
	}
	g, err := strconv.ParseUint(strings.TrimSpace(group), 16, 16)
	if err != nil {
		return dicom.Tag{}, fmt.Errorf("invalid tag group %q: %w", group, err)
	}
	e, err := strconv.ParseUint(strings.TrimSpace(element), 16, 16)
	if err != nil {
		return dicom.Tag{}, fmt.Errorf("invalid tag element %q: %w", element, err)
	}
	return types.NewTag(uint16(g), uint16(e)), nil
}

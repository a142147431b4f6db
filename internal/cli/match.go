package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rcliao/watchpost/internal/match"
	"github.com/rcliao/watchpost/internal/model"
)

func init() {
	cmd := &cobra.Command{
		Use:   "match",
		Short: "Match a vector against the stored embeddings",
		Long: "Read a JSON array of numbers from stdin and report the best matching user " +
			"for the chosen modality, using the configured threshold.",
		Run: runMatch,
	}

	cmd.Flags().StringP("modality", "m", "reid", "Modality: face, reid or gait")
	cmd.Flags().Float64("threshold", 0, "Override the configured threshold")

	RootCmd.AddCommand(cmd)
}

type matchOutput struct {
	Matched    bool    `json:"matched"`
	Modality   string  `json:"modality"`
	Threshold  float64 `json:"threshold"`
	Candidates int     `json:"candidates"`
	*model.Match
}

func runMatch(cmd *cobra.Command, args []string) {
	mod := modalityFlag(cmd)
	override, _ := cmd.Flags().GetFloat64("threshold")

	query, err := readVector(os.Stdin)
	if err != nil {
		exitErr("read vector", err)
	}

	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	c := getConfig()
	threshold := c.ReID.Threshold
	load := s.ReIDEmbeddingsWithNames
	switch mod {
	case model.ModalityFace:
		threshold = c.Face.Threshold
		load = s.FaceEmbeddingsWithNames
	case model.ModalityGait:
		threshold = c.Gait.Threshold
		load = s.GaitEmbeddingsWithNames
	}
	if cmd.Flags().Changed("threshold") {
		threshold = override
	}

	records, err := load(cmd.Context())
	if err != nil {
		exitErr(fmt.Sprintf("load %s embeddings", mod), err)
	}
	idx := match.NewStore(mod, match.NewMatcher(threshold))
	idx.Load(records)

	out := matchOutput{
		Modality:   string(mod),
		Threshold:  idx.Matcher().Threshold(),
		Candidates: idx.Len(),
	}
	if m, ok := idx.Match(query); ok {
		out.Matched = true
		out.Match = &m
	}
	printJSON(out)
}

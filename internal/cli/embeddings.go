package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/rcliao/watchpost/internal/embedding"
	"github.com/rcliao/watchpost/internal/model"
	"github.com/rcliao/watchpost/internal/store"
)

func init() {
	embCmd := &cobra.Command{
		Use:   "embeddings",
		Short: "Manage stored face, re-id and gait embeddings",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List embeddings of one modality",
		Run:   runEmbeddingsList,
	}
	listCmd.Flags().StringP("modality", "m", "reid", "Modality: face, reid or gait")
	listCmd.Flags().StringP("user", "u", "", "Filter by user name")
	listCmd.Flags().IntP("limit", "n", 0, "Max results (0 for all)")
	listCmd.Flags().Bool("vectors", false, "Include the vectors in the output")

	addCmd := &cobra.Command{
		Use:   "add",
		Short: "Add an embedding for a user",
		Long: "Add an embedding for a user. The vector is read from stdin as a JSON array of numbers. " +
			"Face encodings are never capped; re-id and gait samples evict the oldest beyond the cap.",
		Run: runEmbeddingsAdd,
	}
	addCmd.Flags().StringP("modality", "m", "reid", "Modality: face, reid or gait")
	addCmd.Flags().StringP("user", "u", "", "User name (required)")
	addCmd.Flags().Float64("confidence", 1, "Confidence recorded with the sample")
	addCmd.MarkFlagRequired("user")

	rmCmd := &cobra.Command{
		Use:   "rm <id>",
		Short: "Delete one embedding",
		Args:  cobra.ExactArgs(1),
		Run:   runEmbeddingsRm,
	}
	rmCmd.Flags().StringP("modality", "m", "reid", "Modality: face, reid or gait")

	embCmd.AddCommand(listCmd, addCmd, rmCmd)
	RootCmd.AddCommand(embCmd)
}

func modalityFlag(cmd *cobra.Command) model.Modality {
	m, _ := cmd.Flags().GetString("modality")
	mod := model.Modality(m)
	if !model.ValidModalities[mod] {
		exitErr("modality", fmt.Errorf("unknown modality %q (want face, reid or gait)", m))
	}
	return mod
}

func runEmbeddingsList(cmd *cobra.Command, args []string) {
	mod := modalityFlag(cmd)
	userName, _ := cmd.Flags().GetString("user")
	limit, _ := cmd.Flags().GetInt("limit")
	withVectors, _ := cmd.Flags().GetBool("vectors")

	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	p := store.EmbeddingParams{Modality: mod, Limit: limit}
	if userName != "" {
		u, err := s.GetUserByName(cmd.Context(), userName)
		if err != nil {
			exitErr("find user", err)
		}
		p.UserID = u.ID
	}

	records, err := s.ListEmbeddings(cmd.Context(), p)
	if err != nil {
		exitErr("list embeddings", err)
	}

	if formatFlag == "text" {
		for _, r := range records {
			fmt.Printf("%d\t%s\t%d dims\t%.2f\n", r.ID, r.Name, len(r.Vector), r.Confidence)
		}
		return
	}
	if !withVectors {
		for i := range records {
			records[i].Vector = nil
		}
	}
	if records == nil {
		records = []model.EmbeddingRecord{}
	}
	printJSON(records)
}

func runEmbeddingsAdd(cmd *cobra.Command, args []string) {
	mod := modalityFlag(cmd)
	userName, _ := cmd.Flags().GetString("user")
	confidence, _ := cmd.Flags().GetFloat64("confidence")

	v, err := readVector(os.Stdin)
	if err != nil {
		exitErr("read vector", err)
	}

	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	u, err := s.GetUserByName(cmd.Context(), userName)
	if err != nil {
		exitErr("find user", err)
	}

	var id int64
	switch mod {
	case model.ModalityFace:
		id, err = s.AddFaceEncoding(cmd.Context(), u.ID, v)
	case model.ModalityGait:
		id, err = s.AddGaitEmbedding(cmd.Context(), u.ID, v, confidence)
	default:
		id, err = s.AddReIDEmbedding(cmd.Context(), u.ID, v, confidence)
	}
	if err != nil {
		exitErr("add embedding", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), `{"ok":true,"id":%d,"modality":%q,"user":%q,"dims":%d}`+"\n", id, mod, u.Name, len(v))
}

func runEmbeddingsRm(cmd *cobra.Command, args []string) {
	mod := modalityFlag(cmd)
	var id int64
	if _, err := fmt.Sscan(args[0], &id); err != nil {
		exitErr("parse id", err)
	}

	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	if err := s.DeleteEmbedding(cmd.Context(), mod, id); err != nil {
		exitErr("delete embedding", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), `{"ok":true,"id":%d,"modality":%q}`+"\n", id, mod)
}

// readVector parses a JSON array of numbers.
func readVector(r io.Reader) (embedding.Vector, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	var v embedding.Vector
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("parse json: %w", err)
	}
	if len(v) == 0 {
		return nil, fmt.Errorf("empty vector")
	}
	return v, nil
}

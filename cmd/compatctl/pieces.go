package main

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/autoparts/compat-engine/pkg/api"
)

var (
	piecesPage     int
	piecesLimit    int
	piecesSort     string
	piecesPosition string
)

var piecesCmd = &cobra.Command{
	Use:   "pieces <variantId> <gammeId>",
	Short: "Resolve the parts compatible with a vehicle variant in a gamme",
	Args:  cobra.ExactArgs(2),
	RunE:  runPieces,
}

func init() {
	piecesCmd.Flags().IntVar(&piecesPage, "page", 1, "Page number (1-based)")
	piecesCmd.Flags().IntVar(&piecesLimit, "limit", 50, "Parts per page (max 100)")
	piecesCmd.Flags().StringVar(&piecesSort, "sort", "", "Sort keys, e.g. brand,-reference (brand, reference, name, position)")
	piecesCmd.Flags().StringVar(&piecesPosition, "position", "", "Keep parts serving this position, e.g. front or rear-left")
}

func runPieces(cmd *cobra.Command, args []string) error {
	variantID, err := parseID("variantId", args[0])
	if err != nil {
		return err
	}
	gammeID, err := parseID("gammeId", args[1])
	if err != nil {
		return err
	}

	query := url.Values{}
	query.Set("page", strconv.Itoa(piecesPage))
	query.Set("limit", strconv.Itoa(piecesLimit))
	if piecesSort != "" {
		query.Set("sort", piecesSort)
	}
	if piecesPosition != "" {
		query.Set("position", piecesPosition)
	}

	var resp api.PiecesResponse
	if err := newClient().getJSON(fmt.Sprintf("/catalog/pieces/%d/%d", variantID, gammeID), query, &resp); err != nil {
		return err
	}
	if done, err := printStructured(resp); done {
		return err
	}

	rows := make([][]string, 0, len(resp.Pieces))
	for _, p := range resp.Pieces {
		position := string(p.Position) + " (" + string(p.Provenance) + ")"
		switch {
		case p.Ambiguous:
			position += " ambiguous"
		case p.PositionUnverified:
			position += " unverified"
		}
		rows = append(rows, []string{
			itoa(p.PieceID),
			truncate(p.BrandName, 20),
			p.Reference,
			truncate(p.Name, 40),
			position,
			strings.Join(p.MatchedKeywords, ","),
		})
	}
	printTable([]string{"Piece_ID", "Brand", "Reference", "Name", "Position", "Keywords"}, rows)
	fmt.Fprintf(stdout, "\npage %d, %d of %d parts\n", resp.Page, len(resp.Pieces), resp.Count)
	return nil
}

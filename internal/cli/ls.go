package cli

import (
	"context"
	"fmt"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"

	"github.com/avollmer/itchgrab/internal/itchio"
)

// Column widths match what fits a standard terminal with room for IDs.
const (
	authorColWidth = 17
	titleColWidth  = 37
)

var (
	lsAuthor string
	lsTitle  string
)

var lsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List the packages you own",
	Long: `List all packages available in your itch.io library.

Examples:
  itchgrab ls
  itchgrab ls --author mossmouth
  itchgrab ls --title "cave story"`,
	RunE: runLs,
}

func init() {
	lsCmd.Flags().StringVar(&lsAuthor, "author", "", "filter by author username or display name")
	lsCmd.Flags().StringVar(&lsTitle, "title", "", "filter by title (contains match)")
}

func runLs(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	keys, err := newClient().ListOwnedKeys(ctx)
	if err != nil {
		return fmt.Errorf("list owned keys: %w", err)
	}

	keys = itchio.FilterKeys(keys, lsAuthor, lsTitle)
	if len(keys) == 0 {
		fmt.Println("No packages found.")
		return nil
	}

	fmt.Println("Your itch.io packages:")
	fmt.Println(renderKeysTable(keys))
	return nil
}

// renderKeysTable renders ID/Author/Title rows, truncating wide cells
// so multibyte titles don't break the layout.
func renderKeysTable(keys []itchio.OwnedKey) string {
	headerStyle := lipgloss.NewStyle().Bold(true)
	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderRow(false).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle.Padding(0, 1)
			}
			return lipgloss.NewStyle().Padding(0, 1)
		}).
		Headers("ID", "Author", "Title")

	for _, key := range keys {
		t.Row(
			strconv.FormatInt(key.Game.ID, 10),
			runewidth.Truncate(key.Game.User.Name(), authorColWidth, "..."),
			runewidth.Truncate(key.Game.Title, titleColWidth, "..."),
		)
	}
	return t.Render()
}

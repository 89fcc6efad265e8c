package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/qzhou-ai/memflow/internal/graphdb"
)

var (
	personID          string
	personName        string
	personGender      string
	personBirthDate   string
	personNationality string
	personBiography   string
	personMetadata    string
	personDeleteAll   bool
	personForce       bool
)

var personCmd = &cobra.Command{
	Use:   "person",
	Short: "Manage person nodes in the graph database",
}

var personCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a person node",
	Long: `Create a person node in Neo4j. The id is generated when not given.
Gender must be male, female, or other; the birth date must be YYYY-MM-DD.

Examples:
  memflow person create --name "Alice Chen" --gender female --birth-date 1991-06-02 --nationality CN
  memflow person create --name "Bob" --gender male --birth-date 1985-01-30 --id person_bob \
    --biography "old friend from university" --metadata '{"circle":"university"}'`,
	Args: cobra.NoArgs,
	RunE: runPersonCreate,
}

var personDeleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Delete person nodes",
	Long: `Delete persons by id, by name, or all of them. Deleting everything
requires confirmation unless --force is used.

Examples:
  memflow person delete --id person_bob
  memflow person delete --name "Alice Chen"
  memflow person delete --all --force`,
	Args: cobra.NoArgs,
	RunE: runPersonDelete,
}

var personCountCmd = &cobra.Command{
	Use:   "count",
	Short: "Count person nodes",
	Args:  cobra.NoArgs,
	RunE:  runPersonCount,
}

func init() {
	personCreateCmd.Flags().StringVar(&personID, "id", "", "person id (generated if empty)")
	personCreateCmd.Flags().StringVar(&personName, "name", "", "person name (required)")
	personCreateCmd.Flags().StringVar(&personGender, "gender", "", "gender: male, female, or other (required)")
	personCreateCmd.Flags().StringVar(&personBirthDate, "birth-date", "", "birth date, YYYY-MM-DD (required)")
	personCreateCmd.Flags().StringVar(&personNationality, "nationality", "", "nationality")
	personCreateCmd.Flags().StringVar(&personBiography, "biography", "", "short biography")
	personCreateCmd.Flags().StringVar(&personMetadata, "metadata", "", "extra fields as a JSON object")

	personDeleteCmd.Flags().StringVar(&personID, "id", "", "delete by person id")
	personDeleteCmd.Flags().StringVar(&personName, "name", "", "delete by name")
	personDeleteCmd.Flags().BoolVar(&personDeleteAll, "all", false, "delete every person")
	personDeleteCmd.Flags().BoolVarP(&personForce, "force", "f", false, "skip confirmation")

	personCmd.AddCommand(personCreateCmd)
	personCmd.AddCommand(personDeleteCmd)
	personCmd.AddCommand(personCountCmd)
}

// withPersonStore connects to Neo4j, ensures the schema, runs fn, and
// closes the driver.
func withPersonStore(ctx context.Context, fn func(*graphdb.PersonStore) error) error {
	store, err := graphdb.NewPersonStore(ctx, cfg.Neo4jURI, cfg.Neo4jUser, cfg.Neo4jPassword)
	if err != nil {
		return fmt.Errorf("connect to neo4j: %w", err)
	}
	defer store.Close(ctx)

	if err := store.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return fn(store)
}

func runPersonCreate(cmd *cobra.Command, args []string) error {
	if personName == "" {
		return fmt.Errorf("--name is required")
	}
	var metadata map[string]any
	if personMetadata != "" {
		if err := json.Unmarshal([]byte(personMetadata), &metadata); err != nil {
			return fmt.Errorf("parse --metadata: %w", err)
		}
	}

	return withPersonStore(cmd.Context(), func(store *graphdb.PersonStore) error {
		created, err := store.Create(cmd.Context(), graphdb.Person{
			PersonID:    personID,
			Name:        personName,
			Gender:      personGender,
			BirthDate:   personBirthDate,
			Nationality: personNationality,
			Biography:   personBiography,
			Metadata:    metadata,
		})
		if err != nil {
			return err
		}
		fmt.Printf("Created: %s (%s)\n", created.Name, created.PersonID)
		return nil
	})
}

func runPersonDelete(cmd *cobra.Command, args []string) error {
	set := 0
	for _, b := range []bool{personID != "", personName != "", personDeleteAll} {
		if b {
			set++
		}
	}
	if set != 1 {
		return fmt.Errorf("exactly one of --id, --name, or --all is required")
	}

	return withPersonStore(cmd.Context(), func(store *graphdb.PersonStore) error {
		ctx := cmd.Context()
		switch {
		case personID != "":
			if err := store.DeleteByID(ctx, personID, personForce); err != nil {
				return err
			}
			fmt.Printf("Deleted: %s\n", personID)

		case personName != "":
			n, err := store.DeleteByName(ctx, personName)
			if err != nil {
				return err
			}
			fmt.Printf("Deleted %d person(s) named %q\n", n, personName)

		default:
			total, err := store.Count(ctx)
			if err != nil {
				return err
			}
			if total == 0 {
				fmt.Println("Nothing to delete.")
				return nil
			}
			if !personForce {
				fmt.Printf("About to delete all %d person(s).\n", total)
				fmt.Print("\nContinue? [y/N]: ")

				reader := bufio.NewReader(os.Stdin)
				response, err := reader.ReadString('\n')
				if err != nil {
					return fmt.Errorf("read input: %w", err)
				}
				response = strings.TrimSpace(strings.ToLower(response))
				if response != "y" && response != "yes" {
					fmt.Println("Cancelled.")
					return nil
				}
			}
			n, err := store.DeleteAll(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("Deleted %d person(s)\n", n)
		}
		return nil
	})
}

func runPersonCount(cmd *cobra.Command, args []string) error {
	return withPersonStore(cmd.Context(), func(store *graphdb.PersonStore) error {
		n, err := store.Count(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("%d person(s)\n", n)
		return nil
	})
}

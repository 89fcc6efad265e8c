// Package graphdb manages Person nodes in Neo4j. Persons are graph
// collaborators referenced by extracted entities; they live outside the
// file pipeline.
package graphdb

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/qzhou-ai/memflow/internal/memory/store"
)

// birthDateLayout is the accepted birth_date format.
const birthDateLayout = "2006-01-02"

// validGenders are the accepted gender values.
var validGenders = []string{"male", "female", "other"}

// Person is one Person node. Metadata is stored as a JSON string property
// on the node.
type Person struct {
	PersonID    string         `json:"person_id"`
	Name        string         `json:"name"`
	Gender      string         `json:"gender"`
	BirthDate   string         `json:"birth_date"`
	Nationality string         `json:"nationality"`
	Biography   string         `json:"biography"`
	Metadata    map[string]any `json:"metadata"`
	CreatedAt   string         `json:"created_at"`
	UpdatedAt   string         `json:"updated_at"`
}

// validatePerson checks the fields a node must carry before creation.
func validatePerson(p Person) error {
	if p.Name == "" {
		return fmt.Errorf("person needs a name")
	}
	if !slices.Contains(validGenders, p.Gender) {
		return fmt.Errorf("gender %q must be one of %v", p.Gender, validGenders)
	}
	if _, err := time.Parse(birthDateLayout, p.BirthDate); err != nil {
		return fmt.Errorf("birth_date %q must be YYYY-MM-DD", p.BirthDate)
	}
	return nil
}

// PersonStore wraps a Neo4j driver with the Person node operations.
type PersonStore struct {
	driver neo4j.DriverWithContext
}

// NewPersonStore connects to Neo4j and verifies connectivity.
func NewPersonStore(ctx context.Context, uri, user, password string) (*PersonStore, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(user, password, ""))
	if err != nil {
		return nil, fmt.Errorf("create neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		return nil, fmt.Errorf("connect to neo4j: %w", err)
	}
	return &PersonStore{driver: driver}, nil
}

// Close releases the driver.
func (ps *PersonStore) Close(ctx context.Context) error {
	return ps.driver.Close(ctx)
}

// EnsureSchema creates the person_id uniqueness constraint and the lookup
// indexes. Safe to call repeatedly.
func (ps *PersonStore) EnsureSchema(ctx context.Context) error {
	statements := []string{
		"CREATE CONSTRAINT person_id_unique IF NOT EXISTS FOR (p:Person) REQUIRE p.person_id IS UNIQUE",
		"CREATE INDEX person_name IF NOT EXISTS FOR (p:Person) ON (p.name)",
		"CREATE INDEX person_nationality IF NOT EXISTS FOR (p:Person) ON (p.nationality)",
		"CREATE INDEX person_gender IF NOT EXISTS FOR (p:Person) ON (p.gender)",
	}
	for _, stmt := range statements {
		if _, err := ps.run(ctx, stmt, nil); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// Create persists a person. A missing person_id gets a fresh UUID; the
// uniqueness constraint makes a duplicate id an error.
func (ps *PersonStore) Create(ctx context.Context, p Person) (*Person, error) {
	if err := validatePerson(p); err != nil {
		return nil, err
	}
	if p.PersonID == "" {
		p.PersonID = uuid.NewString()
	}
	if p.Metadata == nil {
		p.Metadata = map[string]any{}
	}
	if p.CreatedAt == "" {
		p.CreatedAt = store.GeneratedAt()
	}
	p.UpdatedAt = p.CreatedAt

	metadataJSON, err := json.Marshal(p.Metadata)
	if err != nil {
		return nil, fmt.Errorf("marshal person metadata: %w", err)
	}

	query := `CREATE (p:Person {
		person_id: $person_id, name: $name, gender: $gender,
		birth_date: $birth_date, nationality: $nationality,
		biography: $biography, metadata: $metadata,
		created_at: $created_at, updated_at: $updated_at
	}) RETURN p.person_id AS person_id`
	_, err = ps.run(ctx, query, map[string]any{
		"person_id":   p.PersonID,
		"name":        p.Name,
		"gender":      p.Gender,
		"birth_date":  p.BirthDate,
		"nationality": p.Nationality,
		"biography":   p.Biography,
		"metadata":    string(metadataJSON),
		"created_at":  p.CreatedAt,
		"updated_at":  p.UpdatedAt,
	})
	if err != nil {
		return nil, fmt.Errorf("create person %s: %w", p.Name, err)
	}
	slog.Info("person created", "person_id", p.PersonID, "name", p.Name)
	return &p, nil
}

// CreateBatch creates several persons, stopping at the first failure.
func (ps *PersonStore) CreateBatch(ctx context.Context, persons []Person) ([]Person, error) {
	created := make([]Person, 0, len(persons))
	for _, p := range persons {
		got, err := ps.Create(ctx, p)
		if err != nil {
			return created, err
		}
		created = append(created, *got)
	}
	return created, nil
}

// FindByID returns the person with the given id, or nil.
func (ps *PersonStore) FindByID(ctx context.Context, personID string) (*Person, error) {
	records, err := ps.run(ctx,
		"MATCH (p:Person {person_id: $person_id}) RETURN p", map[string]any{"person_id": personID})
	if err != nil {
		return nil, fmt.Errorf("find person %s: %w", personID, err)
	}
	if len(records) == 0 {
		return nil, nil
	}
	return recordToPerson(records[0])
}

// FindByName returns every person with the given name.
func (ps *PersonStore) FindByName(ctx context.Context, name string) ([]Person, error) {
	records, err := ps.run(ctx,
		"MATCH (p:Person {name: $name}) RETURN p ORDER BY p.created_at", map[string]any{"name": name})
	if err != nil {
		return nil, fmt.Errorf("find persons named %s: %w", name, err)
	}
	persons := make([]Person, 0, len(records))
	for _, record := range records {
		p, err := recordToPerson(record)
		if err != nil {
			return nil, err
		}
		persons = append(persons, *p)
	}
	return persons, nil
}

// Count returns the number of Person nodes.
func (ps *PersonStore) Count(ctx context.Context) (int64, error) {
	records, err := ps.run(ctx, "MATCH (p:Person) RETURN count(p) AS n", nil)
	if err != nil {
		return 0, fmt.Errorf("count persons: %w", err)
	}
	if len(records) == 0 {
		return 0, fmt.Errorf("count query returned nothing")
	}
	n, _, err := neo4j.GetRecordValue[int64](records[0], "n")
	if err != nil {
		return 0, fmt.Errorf("read count: %w", err)
	}
	return n, nil
}

// DeleteByID removes one person. Unless force is set, a missing id is an
// error rather than a silent no-op.
func (ps *PersonStore) DeleteByID(ctx context.Context, personID string, force bool) error {
	if !force {
		existing, err := ps.FindByID(ctx, personID)
		if err != nil {
			return err
		}
		if existing == nil {
			return fmt.Errorf("person %s does not exist", personID)
		}
	}
	_, err := ps.run(ctx,
		"MATCH (p:Person {person_id: $person_id}) DETACH DELETE p", map[string]any{"person_id": personID})
	if err != nil {
		return fmt.Errorf("delete person %s: %w", personID, err)
	}
	slog.Info("person deleted", "person_id", personID)
	return nil
}

// DeleteByName removes every person with the given name and returns how
// many there were.
func (ps *PersonStore) DeleteByName(ctx context.Context, name string) (int64, error) {
	records, err := ps.run(ctx,
		"MATCH (p:Person {name: $name}) DETACH DELETE p RETURN count(p) AS n",
		map[string]any{"name": name})
	if err != nil {
		return 0, fmt.Errorf("delete persons named %s: %w", name, err)
	}
	if len(records) == 0 {
		return 0, nil
	}
	n, _, err := neo4j.GetRecordValue[int64](records[0], "n")
	if err != nil {
		return 0, fmt.Errorf("read delete count: %w", err)
	}
	return n, nil
}

// DeleteAll removes every Person node. Callers gate this behind an
// explicit confirmation flag.
func (ps *PersonStore) DeleteAll(ctx context.Context) (int64, error) {
	before, err := ps.Count(ctx)
	if err != nil {
		return 0, err
	}
	if _, err := ps.run(ctx, "MATCH (p:Person) DETACH DELETE p", nil); err != nil {
		return 0, fmt.Errorf("delete all persons: %w", err)
	}
	slog.Warn("all persons deleted", "count", before)
	return before, nil
}

// run executes one Cypher statement and returns the eager records.
func (ps *PersonStore) run(ctx context.Context, query string, params map[string]any) ([]*neo4j.Record, error) {
	result, err := neo4j.ExecuteQuery(ctx, ps.driver, query, params, neo4j.EagerResultTransformer)
	if err != nil {
		return nil, err
	}
	return result.Records, nil
}

func recordToPerson(record *neo4j.Record) (*Person, error) {
	node, _, err := neo4j.GetRecordValue[neo4j.Node](record, "p")
	if err != nil {
		return nil, fmt.Errorf("read person node: %w", err)
	}
	p := &Person{Metadata: map[string]any{}}
	p.PersonID, _ = node.Props["person_id"].(string)
	p.Name, _ = node.Props["name"].(string)
	p.Gender, _ = node.Props["gender"].(string)
	p.BirthDate, _ = node.Props["birth_date"].(string)
	p.Nationality, _ = node.Props["nationality"].(string)
	p.Biography, _ = node.Props["biography"].(string)
	p.CreatedAt, _ = node.Props["created_at"].(string)
	p.UpdatedAt, _ = node.Props["updated_at"].(string)
	if raw, ok := node.Props["metadata"].(string); ok && raw != "" {
		if err := json.Unmarshal([]byte(raw), &p.Metadata); err != nil {
			return nil, fmt.Errorf("decode person metadata: %w", err)
		}
	}
	return p, nil
}

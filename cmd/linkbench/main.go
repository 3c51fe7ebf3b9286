// linkbench: Offline scorer for extraction quality fixtures.
//
// Reads an expected fixture and an extracted fixture (both JSON), matches
// entities and relationships, and prints precision/recall/F1 for each.
// Relationship matching honors symmetric and inverse type declarations from
// an optional schema file.
//
// Usage:
//
//	go run ./cmd/linkbench/ \
//	  --expected fixtures/expected.json \
//	  --extracted fixtures/extracted.json
//
// Optional flags:
//
//	--schemas         string Path to relationship schema JSON
//	--min-entity-f1   float  Minimum entity F1 threshold (default 0)
//	--min-rel-f1      float  Minimum relationship F1 threshold (default 0)
//	--log-file        string Path to append a JSONL run record
//
// Exit code 0 = all thresholds met; exit code 1 = threshold failure or error.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/graphmill/graphmill/domain/extraction"
	"github.com/graphmill/graphmill/domain/schemas"
)

// Fixture is the on-disk shape shared by expected and extracted files.
type Fixture struct {
	Entities      []extraction.EntityRef       `json:"entities"`
	Relationships []extraction.RelationshipRef `json:"relationships"`
}

type runRecord struct {
	Timestamp     string                `json:"timestamp"`
	ExpectedFile  string                `json:"expectedFile"`
	ExtractedFile string                `json:"extractedFile"`
	Entities      extraction.MatchScore `json:"entities"`
	Relationships extraction.MatchScore `json:"relationships"`
	Passed        bool                  `json:"passed"`
}

func main() {
	expectedPath := flag.String("expected", "", "path to expected fixture JSON")
	extractedPath := flag.String("extracted", "", "path to extracted fixture JSON")
	schemaPath := flag.String("schemas", "", "path to relationship schema JSON")
	minEntityF1 := flag.Float64("min-entity-f1", 0, "minimum entity F1")
	minRelF1 := flag.Float64("min-rel-f1", 0, "minimum relationship F1")
	logFile := flag.String("log-file", "", "path to append JSONL run record")
	flag.Parse()

	if *expectedPath == "" || *extractedPath == "" {
		flag.Usage()
		os.Exit(1)
	}

	expected, err := loadFixture(*expectedPath)
	if err != nil {
		log.Fatalf("load expected fixture: %v", err)
	}
	extracted, err := loadFixture(*extractedPath)
	if err != nil {
		log.Fatalf("load extracted fixture: %v", err)
	}

	relSchemas := map[string]schemas.RelationshipSchema{}
	if *schemaPath != "" {
		if err := loadJSON(*schemaPath, &relSchemas); err != nil {
			log.Fatalf("load schemas: %v", err)
		}
	}

	entityScore := extraction.ScoreEntities(expected.Entities, extracted.Entities)

	matcher := extraction.NewRelationshipMatcher(relSchemas)
	matches, relScore := matcher.Match(expected.Relationships, extracted.Relationships)

	printScore("Entities", entityScore)
	printScore("Relationships", relScore)

	byType := map[extraction.MatchType]int{}
	for _, m := range matches {
		byType[m.MatchType]++
	}
	for _, mt := range []extraction.MatchType{
		extraction.MatchExact,
		extraction.MatchInverse,
		extraction.MatchFuzzy,
		extraction.MatchInverseFuzzy,
	} {
		if n := byType[mt]; n > 0 {
			fmt.Printf("  %-14s %d\n", mt, n)
		}
	}

	passed := entityScore.F1 >= *minEntityF1 && relScore.F1 >= *minRelF1

	if *logFile != "" {
		rec := runRecord{
			Timestamp:     time.Now().UTC().Format(time.RFC3339),
			ExpectedFile:  *expectedPath,
			ExtractedFile: *extractedPath,
			Entities:      entityScore,
			Relationships: relScore,
			Passed:        passed,
		}
		if err := appendRecord(*logFile, rec); err != nil {
			log.Printf("append run record: %v", err)
		}
	}

	if !passed {
		fmt.Println("FAIL: score below threshold")
		os.Exit(1)
	}
	fmt.Println("PASS")
}

func printScore(label string, s extraction.MatchScore) {
	fmt.Printf("%s: P=%.3f R=%.3f F1=%.3f (%d/%d expected, %d extracted)\n",
		label, s.Precision, s.Recall, s.F1, s.Matched, s.Expected, s.Extracted)
}

func loadFixture(path string) (*Fixture, error) {
	var f Fixture
	if err := loadJSON(path, &f); err != nil {
		return nil, err
	}
	return &f, nil
}

func loadJSON(path string, dst any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

func appendRecord(path string, rec runRecord) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	line, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	_, err = f.Write(append(line, '\n'))
	return err
}

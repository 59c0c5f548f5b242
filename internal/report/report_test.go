package report

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"foodcore/internal/blob"
	"foodcore/pkg/ontology"
)

type recordingAudit struct {
	mu      sync.Mutex
	entries []AuditEntry
}

func (l *recordingAudit) Record(ctx context.Context, entry AuditEntry) {
	l.mu.Lock()
	l.entries = append(l.entries, entry)
	l.mu.Unlock()
}

func (l *recordingAudit) Entries() []AuditEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]AuditEntry, len(l.entries))
	copy(out, l.entries)
	return out
}

func fixtureSource() Source {
	milk := "bos_taurus/milk"
	yogurt := "bos_taurus/milk/tf:ferment{starter=yogurt_culture}"
	return Source{
		Fingerprint: "feedc0dedeadbeef",
		Nodes: []ontology.CanonicalNode{
			{
				ID:      yogurt,
				Hash:    "bbbb2222",
				TaxonID: "bos_taurus",
				PartID:  "milk",
				Rank:    ontology.RankSpecies,
				Kind:    ontology.NodeTPT,
				Chain:   []ontology.ChainStep{{Transform: "ferment", Params: []ontology.Param{{Key: "starter", Value: "yogurt_culture"}}}},
			},
			{
				ID:      milk,
				Hash:    "aaaa1111",
				TaxonID: "bos_taurus",
				PartID:  "milk",
				Rank:    ontology.RankSpecies,
				Kind:    ontology.NodeTP,
			},
		},
		Mappings: []ontology.EvidenceMapping{
			{SourceID: "fdc", ExternalFoodID: "1077", NodeID: &milk, Confidence: 0.92, Method: ontology.ResolutionName},
			{SourceID: "labelfeed", ExternalFoodID: "brand-77", Reason: ontology.UnmappedMixture},
			{SourceID: "fdc", ExternalFoodID: "2001", Confidence: 0.31, Reason: ontology.UnmappedLowConfidence},
		},
		Profiles: []ontology.NutrientProfile{
			{
				NodeID:     milk,
				NutrientID: "protein",
				Amount:     3.3,
				Unit:       "g",
				Basis:      ontology.BasisPer100g,
				Method:     ontology.ProfileDirect,
				NSources:   2,
				Provenance: []ontology.ProvenanceEntry{
					{SourceID: "fdc", ExternalFoodID: "1077", Weight: 1, Used: true},
					{SourceID: "fdc", ExternalFoodID: "9999", Weight: 0.4, Used: false, ReasonExcluded: ontology.ExcludedOutlier},
				},
			},
			{
				NodeID:     yogurt,
				NutrientID: "protein",
				Amount:     3.5,
				Unit:       "g",
				Basis:      ontology.BasisPer100g,
				Method:     ontology.ProfileBorrowed,
				NSources:   1,
				Flags:      []ontology.ProfileFlag{ontology.FlagFullyImputed},
				Provenance: []ontology.ProvenanceEntry{
					{SourceID: "graph:borrow", ExternalFoodID: milk, Weight: 0.8, Used: true},
				},
			},
		},
	}
}

func startWorker(t *testing.T, store blob.Store, audit AuditLogger) *Worker {
	t.Helper()
	w := NewWorker(fixtureSource(), store, audit)
	w.Start()
	t.Cleanup(func() { _ = w.Stop(context.Background()) })
	return w
}

func TestWorkerRendersJob(t *testing.T) {
	store := blob.NewMemory()
	audit := &recordingAudit{}
	w := startWorker(t, store, audit)

	ctx := context.Background()
	queued, err := w.Enqueue(ctx, Input{Template: TemplateUnmappedEvidence})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if queued.Status != StatusPending {
		t.Fatalf("expected pending status, got %s", queued.Status)
	}

	waitCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	job, err := w.Wait(waitCtx, queued.ID)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if job.Status != StatusSucceeded {
		t.Fatalf("job did not succeed: %s (%s)", job.Status, job.Error)
	}
	if job.CompletedAt == nil {
		t.Fatalf("expected completion timestamp")
	}
	if len(job.Artifacts) != 2 {
		t.Fatalf("expected 2 artifacts, got %d", len(job.Artifacts))
	}
	wantKeys := []string{
		"reports/" + queued.ID + "/unmapped_evidence.json",
		"reports/" + queued.ID + "/unmapped_evidence.csv",
	}
	for i, want := range wantKeys {
		if job.Artifacts[i].Key != want {
			t.Fatalf("artifact %d key = %s, want %s", i, job.Artifacts[i].Key, want)
		}
		if job.Artifacts[i].Rows != 2 {
			t.Fatalf("artifact %d rows = %d, want 2", i, job.Artifacts[i].Rows)
		}
		if _, err := store.Head(context.Background(), want); err != nil {
			t.Fatalf("artifact %s not archived: %v", want, err)
		}
	}

	_, body, err := store.Get(context.Background(), wantKeys[0])
	if err != nil {
		t.Fatalf("get json artifact: %v", err)
	}
	defer body.Close()
	var doc document
	if err := json.NewDecoder(body).Decode(&doc); err != nil {
		t.Fatalf("decode json artifact: %v", err)
	}
	if doc.Report != TemplateUnmappedEvidence || doc.Fingerprint != "feedc0dedeadbeef" {
		t.Fatalf("unexpected document header: %+v", doc)
	}
	if doc.RowCount != 2 || len(doc.Rows) != 2 {
		t.Fatalf("expected 2 rows, got count=%d len=%d", doc.RowCount, len(doc.Rows))
	}
	if doc.Rows[0]["external_food_id"] != "2001" || doc.Rows[1]["external_food_id"] != "brand-77" {
		t.Fatalf("rows out of order: %+v", doc.Rows)
	}
}

func TestWorkerAuditTrail(t *testing.T) {
	audit := &recordingAudit{}
	w := startWorker(t, blob.NewMemory(), audit)

	queued, err := w.Enqueue(context.Background(), Input{Template: TemplateNodeCatalog})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := w.Wait(ctx, queued.ID); err != nil {
		t.Fatalf("wait: %v", err)
	}

	var statuses []Status
	for _, entry := range audit.Entries() {
		if entry.JobID != queued.ID {
			t.Fatalf("audit entry for foreign job: %+v", entry)
		}
		if entry.Template != TemplateNodeCatalog {
			t.Fatalf("audit entry template = %s", entry.Template)
		}
		statuses = append(statuses, entry.Status)
	}
	want := []Status{StatusPending, StatusRunning, StatusSucceeded}
	if len(statuses) != len(want) {
		t.Fatalf("expected %d audit entries, got %v", len(want), statuses)
	}
	for i := range want {
		if statuses[i] != want[i] {
			t.Fatalf("audit transition %d = %s, want %s", i, statuses[i], want[i])
		}
	}
}

func TestWorkerFailsOnUnknownParameter(t *testing.T) {
	audit := &recordingAudit{}
	w := startWorker(t, blob.NewMemory(), audit)

	queued, err := w.Enqueue(context.Background(), Input{
		Template:   TemplateProfileSummary,
		Parameters: map[string]string{"flavour": "umami"},
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	job, err := w.Wait(ctx, queued.ID)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if job.Status != StatusFailed {
		t.Fatalf("expected failed job, got %s", job.Status)
	}
	if !strings.Contains(job.Error, `unknown parameter "flavour"`) {
		t.Fatalf("unexpected error: %s", job.Error)
	}
	entries := audit.Entries()
	if len(entries) == 0 || entries[len(entries)-1].Status != StatusFailed {
		t.Fatalf("expected failed audit entry, got %+v", entries)
	}
}

func TestEnqueueRejectsBadRequests(t *testing.T) {
	w := NewWorker(fixtureSource(), blob.NewMemory(), nil)

	if _, err := w.Enqueue(context.Background(), Input{Template: "no_such_report"}); err == nil {
		t.Fatalf("expected unknown template error")
	}
	if _, err := w.Enqueue(context.Background(), Input{}); err == nil {
		t.Fatalf("expected missing template error")
	}
	if _, err := w.Enqueue(context.Background(), Input{Template: TemplateExclusions, Formats: []Format{"parquet"}}); err == nil {
		t.Fatalf("expected unsupported format error")
	}
}

func TestValidateParams(t *testing.T) {
	template := Template{
		Name: "synthetic",
		Params: []ParamSpec{
			{Name: "window", Required: true},
			{Name: "mode", Enum: []string{"fast", "slow"}},
		},
	}

	if err := template.validateParams(map[string]string{"window": "7d", "mode": "fast"}); err != nil {
		t.Fatalf("valid parameters rejected: %v", err)
	}
	err := template.validateParams(nil)
	if err == nil || !strings.Contains(err.Error(), `parameter "window" is required`) {
		t.Fatalf("expected missing required error, got %v", err)
	}
	err = template.validateParams(map[string]string{"window": "7d", "mode": "sideways"})
	if err == nil || !strings.Contains(err.Error(), `must be one of fast, slow`) {
		t.Fatalf("expected enum error, got %v", err)
	}
	err = template.validateParams(map[string]string{"window": "7d", "depth": "3"})
	if err == nil || !strings.Contains(err.Error(), `unknown parameter "depth"`) {
		t.Fatalf("expected unknown parameter error, got %v", err)
	}
}

func TestUnmappedEvidenceFilter(t *testing.T) {
	template, ok := Lookup(TemplateUnmappedEvidence)
	if !ok {
		t.Fatalf("template missing")
	}
	src := fixtureSource()

	payload, rows, err := template.Render(src, map[string]string{"reason": string(ontology.UnmappedMixture)}, FormatCSV)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if rows != 1 {
		t.Fatalf("expected 1 filtered row, got %d", rows)
	}
	records, err := csv.NewReader(strings.NewReader(string(payload))).ReadAll()
	if err != nil {
		t.Fatalf("parse csv: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected header plus one row, got %d records", len(records))
	}
	if records[0][0] != "source_id" || records[1][1] != "brand-77" || records[1][2] != "mixture" {
		t.Fatalf("unexpected csv contents: %v", records)
	}

	if err := template.validateParams(map[string]string{"reason": "bored"}); err == nil {
		t.Fatalf("expected enum validation error for reason")
	}
}

func TestExclusionsTemplate(t *testing.T) {
	template, ok := Lookup(TemplateExclusions)
	if !ok {
		t.Fatalf("template missing")
	}
	payload, rows, err := template.Render(fixtureSource(), nil, FormatCSV)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if rows != 1 {
		t.Fatalf("expected the single excluded record, got %d rows", rows)
	}
	text := string(payload)
	if !strings.Contains(text, "9999") || !strings.Contains(text, "outlier") {
		t.Fatalf("excluded record missing from csv: %s", text)
	}
	if strings.Contains(text, "1077") {
		t.Fatalf("used record leaked into exclusions: %s", text)
	}
}

func TestProfileSummaryFilter(t *testing.T) {
	template, ok := Lookup(TemplateProfileSummary)
	if !ok {
		t.Fatalf("template missing")
	}
	payload, rows, err := template.Render(fixtureSource(), map[string]string{"method": "borrowed"}, FormatJSON)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if rows != 1 {
		t.Fatalf("expected 1 borrowed profile, got %d", rows)
	}
	var doc document
	if err := json.Unmarshal(payload, &doc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	row := doc.Rows[0]
	if row["method"] != "borrowed" || row["flags"] != "fully_imputed" {
		t.Fatalf("unexpected row: %+v", row)
	}
	if row["n_sources"] != float64(1) {
		t.Fatalf("n_sources = %v", row["n_sources"])
	}
}

func TestNodeCatalogTemplate(t *testing.T) {
	template, ok := Lookup(TemplateNodeCatalog)
	if !ok {
		t.Fatalf("template missing")
	}
	payload, rows, err := template.Render(fixtureSource(), nil, FormatCSV)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if rows != 2 {
		t.Fatalf("expected 2 nodes, got %d", rows)
	}
	records, err := csv.NewReader(strings.NewReader(string(payload))).ReadAll()
	if err != nil {
		t.Fatalf("parse csv: %v", err)
	}
	if records[1][0] != "bos_taurus/milk" {
		t.Fatalf("nodes not sorted by id: %v", records[1])
	}
	if records[2][5] != "tpt" || records[2][6] != "ferment" {
		t.Fatalf("chain node row wrong: %v", records[2])
	}

	_, rows, err = template.Render(fixtureSource(), map[string]string{"kind": "tp"}, FormatCSV)
	if err != nil {
		t.Fatalf("render filtered: %v", err)
	}
	if rows != 1 {
		t.Fatalf("kind filter kept %d rows", rows)
	}
}

func TestRunWithoutStore(t *testing.T) {
	template, _ := Lookup(TemplateProfileSummary)
	artifacts, err := Run(context.Background(), nil, fixtureSource(), "job-1", template, nil, []Format{FormatJSON})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(artifacts) != 1 || artifacts[0].Key != "reports/job-1/profile_summary.json" {
		t.Fatalf("unexpected artifacts: %+v", artifacts)
	}
	if artifacts[0].SizeBytes == 0 {
		t.Fatalf("artifact size not recorded")
	}
}

func TestNamesSorted(t *testing.T) {
	names := Names()
	want := []string{TemplateExclusions, TemplateNodeCatalog, TemplateProfileSummary, TemplateUnmappedEvidence}
	if len(names) != len(want) {
		t.Fatalf("expected %d templates, got %v", len(want), names)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("names[%d] = %s, want %s", i, names[i], want[i])
		}
	}
}

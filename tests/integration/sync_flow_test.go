package integration_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/notesreview/notesync/internal/database"
	"github.com/notesreview/notesync/internal/notes"
	"github.com/notesreview/notesync/internal/osmapi"
	"github.com/notesreview/notesync/internal/osmdump"
	"github.com/notesreview/notesync/internal/server"
	syncengine "github.com/notesreview/notesync/internal/sync"
	"github.com/notesreview/notesync/internal/watermark"
	"go.uber.org/zap"
)

const initialDump = `<?xml version="1.0" encoding="UTF-8"?>
<osm-notes>
  <note id="101" lat="52.5" lon="13.4" created_at="2020-01-01T00:00:00Z">
    <comment action="opened" timestamp="2020-01-01T00:00:00Z" uid="11" user="alice">missing bench</comment>
  </note>
  <note id="102" lat="48.1" lon="11.5" created_at="2020-01-02T00:00:00Z" closed_at="2020-01-03T00:00:00Z">
    <comment action="opened" timestamp="2020-01-02T00:00:00Z" uid="12" user="bob">wrong name</comment>
    <comment action="closed" timestamp="2020-01-03T00:00:00Z" uid="12" user="bob">fixed</comment>
  </note>
</osm-notes>`

const secondDump = `<osm-notes>
  <note id="102" lat="48.1" lon="11.5"/>
</osm-notes>`

func TestImportUpdateReconcileFlow(testContext *testing.T) {
	gin.SetMode(gin.TestMode)
	ctx := context.Background()

	db, err := database.OpenSQLite(filepath.Join(testContext.TempDir(), "notes.db"), zap.NewNop())
	if err != nil {
		testContext.Fatalf("failed to open database: %v", err)
	}
	store, err := notes.NewStore(notes.StoreConfig{Database: db, IDProvider: notes.NewUUIDProvider()})
	if err != nil {
		testContext.Fatalf("failed to build store: %v", err)
	}
	watermarks, err := watermark.NewStore(testContext.TempDir())
	if err != nil {
		testContext.Fatalf("failed to build watermark store: %v", err)
	}
	writer, err := syncengine.NewWriter(syncengine.WriterConfig{Store: store})
	if err != nil {
		testContext.Fatalf("failed to build writer: %v", err)
	}

	importer, err := syncengine.NewImporter(syncengine.ImporterConfig{
		Reader:     osmdump.NewReader(strings.NewReader(initialDump), nil),
		Writer:     writer,
		Store:      store,
		Watermarks: watermarks,
	})
	if err != nil {
		testContext.Fatalf("failed to build importer: %v", err)
	}

	importResult, err := importer.Run(ctx)
	if err != nil {
		testContext.Fatalf("import failed: %v", err)
	}
	if importResult.Stats.Inserted != 2 {
		testContext.Fatalf("unexpected import stats: %+v", importResult.Stats)
	}

	// Note 102 was reopened since the dump; note 101 is untouched.
	reopenedAt := time.Now().UTC().Add(-time.Minute).Truncate(time.Second).Format(time.RFC3339)
	changedPage := fmt.Sprintf(`{"type":"FeatureCollection","features":[
	  {"geometry":{"coordinates":[11.5,48.1]},"properties":{"id":102,"status":"open","comments":[
	    {"date":"2020-01-02T00:00:00Z","action":"opened","uid":12,"user":"bob","text":"wrong name"},
	    {"date":"2020-01-03T00:00:00Z","action":"closed","uid":12,"user":"bob","text":"fixed"},
	    {"date":%q,"action":"reopened","uid":13,"user":"carol","text":"still wrong"}]}},
	  {"geometry":{"coordinates":[13.4,52.5]},"properties":{"id":101,"status":"open","comments":[
	    {"date":"2020-01-01T00:00:00Z","action":"opened","uid":11,"user":"alice","text":"missing bench"}]}}]}`, reopenedAt)

	var apiCalls atomic.Int64
	apiServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if apiCalls.Add(1) == 1 {
			fmt.Fprint(w, changedPage)
			return
		}
		fmt.Fprint(w, `{"type":"FeatureCollection","features":[]}`)
	}))
	defer apiServer.Close()

	client, err := osmapi.NewClient(osmapi.ClientConfig{BaseURL: apiServer.URL})
	if err != nil {
		testContext.Fatalf("failed to build client: %v", err)
	}
	updater, err := syncengine.NewUpdater(syncengine.UpdaterConfig{
		Fetcher:    client,
		Writer:     writer,
		Watermarks: watermarks,
	})
	if err != nil {
		testContext.Fatalf("failed to build updater: %v", err)
	}

	updateResult, err := updater.Run(ctx)
	if err != nil {
		testContext.Fatalf("update failed: %v", err)
	}
	if updateResult.Stats.Updated != 1 || updateResult.Stats.Matched < 1 {
		testContext.Fatalf("unexpected update stats: %+v", updateResult.Stats)
	}

	reopened, found, err := store.Get(ctx, 102)
	if err != nil || !found {
		testContext.Fatalf("expected note 102, found=%v err=%v", found, err)
	}
	if reopened.Status != notes.StatusOpen || len(reopened.Comments) != 3 {
		testContext.Fatalf("reopening was not applied: %+v", reopened)
	}

	// A later dump only contains note 102, so 101 must be removed.
	reconciler, err := syncengine.NewReconciler(syncengine.ReconcilerConfig{
		Scanner:    osmdump.NewIDScanner(strings.NewReader(secondDump), nil),
		Store:      store,
		Watermarks: watermarks,
		Apply:      true,
	})
	if err != nil {
		testContext.Fatalf("failed to build reconciler: %v", err)
	}
	reconcileResult, err := reconciler.Run(ctx)
	if err != nil {
		testContext.Fatalf("reconcile failed: %v", err)
	}
	if reconcileResult.Deleted != 1 {
		testContext.Fatalf("unexpected reconcile result: %+v", reconcileResult)
	}
	if _, found, err := store.Get(ctx, 101); err != nil || found {
		testContext.Fatalf("expected note 101 removed, found=%v err=%v", found, err)
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{Store: store, Watermarks: watermarks})
	if err != nil {
		testContext.Fatalf("failed to build handler: %v", err)
	}
	statusServer := httptest.NewServer(handler)
	defer statusServer.Close()

	statusResp, err := http.Get(statusServer.URL + "/api/status")
	if err != nil {
		testContext.Fatalf("status request failed: %v", err)
	}
	defer statusResp.Body.Close()
	if statusResp.StatusCode != http.StatusOK {
		testContext.Fatalf("unexpected status code: %d", statusResp.StatusCode)
	}

	var status struct {
		LastImport *string `json:"last_import"`
		LastUpdate *string `json:"last_update"`
		LastSync   *string `json:"last_sync"`
		Notes      int64   `json:"notes"`
	}
	if err := json.NewDecoder(statusResp.Body).Decode(&status); err != nil {
		testContext.Fatalf("failed to decode status: %v", err)
	}
	if status.LastImport == nil || status.LastUpdate == nil || status.LastSync == nil {
		testContext.Fatalf("expected all watermarks set, got %+v", status)
	}
	if status.Notes != 1 {
		testContext.Fatalf("expected one remaining note, got %d", status.Notes)
	}
}

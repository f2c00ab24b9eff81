package pipeline

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"testing"
	"time"

	"github.com/aws/aws-lambda-go/events"

	"github.com/halapix/imgpipe/internal/config"
	"github.com/halapix/imgpipe/internal/fault"
	"github.com/halapix/imgpipe/internal/objectstore"
	"github.com/halapix/imgpipe/internal/record"
	"github.com/halapix/imgpipe/internal/staging"
)

// fakeObjectStore keeps objects in memory, keyed bucket/key. Failure
// counters make the next N calls fail with a retryable fault so retry
// behavior is testable without a network.
type fakeObjectStore struct {
	objects       map[string][]byte
	stored        map[string]objectstore.PutRequest
	fetchCalls    int
	fetchFailures int
	putFailures   int
}

func newFakeObjectStore() *fakeObjectStore {
	return &fakeObjectStore{
		objects: make(map[string][]byte),
		stored:  make(map[string]objectstore.PutRequest),
	}
}

func (f *fakeObjectStore) addObject(bucket, key string, data []byte) {
	f.objects[bucket+"/"+key] = data
}

func (f *fakeObjectStore) Fetch(ctx context.Context, bucket, key, localPath string) error {
	f.fetchCalls++
	if f.fetchFailures > 0 {
		f.fetchFailures--
		return fault.New(fault.KindFetch, "simulated store outage")
	}
	data, ok := f.objects[bucket+"/"+key]
	if !ok {
		return fault.New(fault.KindFetch, "object %s/%s not found", bucket, key)
	}
	return os.WriteFile(localPath, data, 0o644)
}

func (f *fakeObjectStore) Put(ctx context.Context, req objectstore.PutRequest) error {
	if f.putFailures > 0 {
		f.putFailures--
		return fault.New(fault.KindUpload, "simulated store outage")
	}
	data, err := os.ReadFile(req.LocalPath)
	if err != nil {
		return fault.New(fault.KindResource, "read staged file: %w", err)
	}
	f.objects[req.Bucket+"/"+req.Key] = data
	f.stored[req.Bucket+"/"+req.Key] = req
	return nil
}

// fakeRecordStore collects persisted records in memory.
type fakeRecordStore struct {
	records []*record.Record
	failAll bool
}

func (f *fakeRecordStore) Persist(ctx context.Context, rec *record.Record) error {
	if f.failAll {
		return fault.New(fault.KindPersist, "simulated table outage")
	}
	f.records = append(f.records, rec)
	return nil
}

func testConfig(stagingRoot string) config.Config {
	return config.Config{
		DestinationBucket: "dest-bucket-image-out",
		DestinationPrefix: "resized-",
		ResizeRatio:       0.5,
		RecordTable:       "hala-db",
		StagingRoot:       stagingRoot,
		MaxPixels:         100_000_000,
		RetryAttempts:     3,
		RetryBackoff:      time.Millisecond,
	}
}

func encodeJPEG(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x % 256), G: uint8(y % 256), B: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func encodePNG(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(y % 256), G: uint8(x % 256), B: 64, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func testNotification(bucket, key string) Notification {
	return Notification{
		SourceBucket: bucket,
		Key:          key,
		EventName:    "ObjectCreated:Put",
		EventSource:  "aws:s3",
		Region:       "ap-southeast-1",
		EventVersion: "2.1",
		EventTime:    time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC),
		ObjectSize:   500000,
	}
}

func s3Record(bucket, key string) events.S3EventRecord {
	return events.S3EventRecord{
		EventVersion: "2.1",
		EventSource:  "aws:s3",
		AWSRegion:    "ap-southeast-1",
		EventTime:    time.Now(),
		EventName:    "ObjectCreated:Put",
		S3: events.S3Entity{
			Bucket: events.S3Bucket{Name: bucket},
			Object: events.S3Object{Key: key, Size: 1},
		},
	}
}

func assertStagingEmpty(t *testing.T, root string) {
	t.Helper()
	entries, err := os.ReadDir(root)
	if err != nil {
		t.Fatalf("read staging root: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("staging root holds %d leftover entries after processing, want 0", len(entries))
	}
}

func TestProcessOneSuccess(t *testing.T) {
	root := t.TempDir()
	objects := newFakeObjectStore()
	objects.addObject("src-bucket-image-in", "cake.jpg", encodeJPEG(t, 800, 600))
	records := &fakeRecordStore{}
	p := New(testConfig(root), staging.New(root), objects, records)

	out := p.ProcessOne(context.Background(), testNotification("src-bucket-image-in", "cake.jpg"))

	if out.Status != StatusSucceeded {
		t.Fatalf("Status = %v, want %v (err: %v)", out.Status, StatusSucceeded, out.Err)
	}
	if out.Stage != StageRecordPersisted {
		t.Errorf("Stage = %v, want %v", out.Stage, StageRecordPersisted)
	}
	if out.DestBucket != "dest-bucket-image-out" || out.DestKey != "resized-cake.jpg" {
		t.Errorf("destination = %s/%s, want dest-bucket-image-out/resized-cake.jpg", out.DestBucket, out.DestKey)
	}
	if out.RecordID == "" {
		t.Error("RecordID is empty, want persisted record identifier")
	}

	req, ok := objects.stored["dest-bucket-image-out/resized-cake.jpg"]
	if !ok {
		t.Fatal("destination object not uploaded")
	}
	if req.ContentType != "image/jpeg" {
		t.Errorf("ContentType = %q, want image/jpeg", req.ContentType)
	}

	srcProps, err := PropertiesFromMetadata(req.Metadata, "source")
	if err != nil {
		t.Fatalf("PropertiesFromMetadata(source) error = %v", err)
	}
	if srcProps.Width != 800 || srcProps.Height != 600 {
		t.Errorf("source metadata dimensions = %dx%d, want 800x600", srcProps.Width, srcProps.Height)
	}
	resizedProps, err := PropertiesFromMetadata(req.Metadata, "resized")
	if err != nil {
		t.Fatalf("PropertiesFromMetadata(resized) error = %v", err)
	}
	if resizedProps.Width != 400 || resizedProps.Height != 300 {
		t.Errorf("resized metadata dimensions = %dx%d, want 400x300", resizedProps.Width, resizedProps.Height)
	}

	if len(records.records) != 1 {
		t.Fatalf("persisted %d records, want 1", len(records.records))
	}
	rec := records.records[0]
	if rec.ID != out.RecordID {
		t.Errorf("record ID = %q, outcome RecordID = %q, want equal", rec.ID, out.RecordID)
	}
	if rec.OriginalWidth != 800 || rec.OriginalHeight != 600 || rec.ResizedWidth != 400 || rec.ResizedHeight != 300 {
		t.Errorf("record dimensions = %dx%d and %dx%d, want 800x600 and 400x300",
			rec.OriginalWidth, rec.OriginalHeight, rec.ResizedWidth, rec.ResizedHeight)
	}
	if rec.DimensionReduction != "800x600 → 400x300" {
		t.Errorf("DimensionReduction = %q, want %q", rec.DimensionReduction, "800x600 → 400x300")
	}
	if got := int64(len(objects.objects["dest-bucket-image-out/resized-cake.jpg"])); rec.ResizedFileSize != got {
		t.Errorf("ResizedFileSize = %d, uploaded object has %d bytes", rec.ResizedFileSize, got)
	}

	assertStagingEmpty(t, root)
}

func TestProcessBatchIsolation(t *testing.T) {
	root := t.TempDir()
	objects := newFakeObjectStore()
	objects.addObject("src", "a.jpg", encodeJPEG(t, 100, 80))
	objects.addObject("src", "broken.jpg", []byte("definitely not an image"))
	objects.addObject("src", "c.png", encodePNG(t, 60, 40))
	records := &fakeRecordStore{}
	p := New(testConfig(root), staging.New(root), objects, records)

	batch := p.Process(context.Background(), events.S3Event{Records: []events.S3EventRecord{
		s3Record("src", "a.jpg"),
		s3Record("src", "broken.jpg"),
		s3Record("src", "c.png"),
	}})

	if batch.Succeeded != 2 || batch.Failed != 1 || batch.Partial != 0 {
		t.Fatalf("batch counts = %d/%d/%d succeeded/partial/failed, want 2/0/1",
			batch.Succeeded, batch.Partial, batch.Failed)
	}
	if len(batch.Outcomes) != 3 {
		t.Fatalf("len(Outcomes) = %d, want 3", len(batch.Outcomes))
	}
	if batch.Outcomes[0].Status != StatusSucceeded || batch.Outcomes[2].Status != StatusSucceeded {
		t.Errorf("sibling outcomes = %v and %v, want both %v",
			batch.Outcomes[0].Status, batch.Outcomes[2].Status, StatusSucceeded)
	}
	mid := batch.Outcomes[1]
	if mid.Status != StatusFailed || mid.FailureKind != fault.KindDecode {
		t.Errorf("corrupt event outcome = %v/%v, want %v/%v",
			mid.Status, mid.FailureKind, StatusFailed, fault.KindDecode)
	}
	if len(records.records) != 2 {
		t.Errorf("persisted %d records, want 2", len(records.records))
	}
	assertStagingEmpty(t, root)
}

func TestProcessOnePartialSuccess(t *testing.T) {
	root := t.TempDir()
	objects := newFakeObjectStore()
	objects.addObject("src", "cake.jpg", encodeJPEG(t, 200, 100))
	records := &fakeRecordStore{failAll: true}
	p := New(testConfig(root), staging.New(root), objects, records)

	out := p.ProcessOne(context.Background(), testNotification("src", "cake.jpg"))

	if out.Status != StatusPartial {
		t.Fatalf("Status = %v, want %v", out.Status, StatusPartial)
	}
	if out.Stage != StageUploaded {
		t.Errorf("Stage = %v, want %v", out.Stage, StageUploaded)
	}
	if out.FailureKind != fault.KindPersist {
		t.Errorf("FailureKind = %v, want %v", out.FailureKind, fault.KindPersist)
	}
	// The destination placement stays in the outcome so operators can
	// find the orphaned object.
	if out.DestBucket != "dest-bucket-image-out" || out.DestKey != "resized-cake.jpg" {
		t.Errorf("destination = %s/%s, want dest-bucket-image-out/resized-cake.jpg", out.DestBucket, out.DestKey)
	}
	if _, ok := objects.stored["dest-bucket-image-out/resized-cake.jpg"]; !ok {
		t.Error("destination object missing, partial success requires the upload to have happened")
	}
	assertStagingEmpty(t, root)
}

func TestProcessOneRetriesTransientFetch(t *testing.T) {
	root := t.TempDir()
	objects := newFakeObjectStore()
	objects.addObject("src", "cake.jpg", encodeJPEG(t, 100, 100))
	objects.fetchFailures = 2
	records := &fakeRecordStore{}
	p := New(testConfig(root), staging.New(root), objects, records)

	out := p.ProcessOne(context.Background(), testNotification("src", "cake.jpg"))

	if out.Status != StatusSucceeded {
		t.Fatalf("Status = %v after transient failures, want %v (err: %v)", out.Status, StatusSucceeded, out.Err)
	}
	if objects.fetchCalls != 3 {
		t.Errorf("fetch attempts = %d, want 3 (two failures then success)", objects.fetchCalls)
	}
}

func TestProcessOneFetchExhaustsRetries(t *testing.T) {
	root := t.TempDir()
	objects := newFakeObjectStore()
	objects.addObject("src", "cake.jpg", encodeJPEG(t, 100, 100))
	objects.fetchFailures = 10
	records := &fakeRecordStore{}
	p := New(testConfig(root), staging.New(root), objects, records)

	out := p.ProcessOne(context.Background(), testNotification("src", "cake.jpg"))

	if out.Status != StatusFailed || out.FailureKind != fault.KindFetch {
		t.Fatalf("outcome = %v/%v, want %v/%v", out.Status, out.FailureKind, StatusFailed, fault.KindFetch)
	}
	if out.Stage != StageStaged {
		t.Errorf("Stage = %v, want %v (download never completed)", out.Stage, StageStaged)
	}
	if objects.fetchCalls != 3 {
		t.Errorf("fetch attempts = %d, want the configured 3", objects.fetchCalls)
	}
	assertStagingEmpty(t, root)
}

func TestProcessOneUploadFailure(t *testing.T) {
	root := t.TempDir()
	objects := newFakeObjectStore()
	objects.addObject("src", "cake.jpg", encodeJPEG(t, 100, 100))
	objects.putFailures = 10
	records := &fakeRecordStore{}
	p := New(testConfig(root), staging.New(root), objects, records)

	out := p.ProcessOne(context.Background(), testNotification("src", "cake.jpg"))

	if out.Status != StatusFailed || out.FailureKind != fault.KindUpload {
		t.Fatalf("outcome = %v/%v, want %v/%v", out.Status, out.FailureKind, StatusFailed, fault.KindUpload)
	}
	if out.Stage != StageResizedMeasured {
		t.Errorf("Stage = %v, want %v", out.Stage, StageResizedMeasured)
	}
	if out.DestKey != "" {
		t.Errorf("DestKey = %q, want empty when nothing was uploaded", out.DestKey)
	}
	if len(records.records) != 0 {
		t.Errorf("persisted %d records, want 0 after upload failure", len(records.records))
	}
	assertStagingEmpty(t, root)
}

func TestProcessOneZeroByteObject(t *testing.T) {
	root := t.TempDir()
	objects := newFakeObjectStore()
	objects.addObject("src", "empty.jpg", nil)
	records := &fakeRecordStore{}
	p := New(testConfig(root), staging.New(root), objects, records)

	out := p.ProcessOne(context.Background(), testNotification("src", "empty.jpg"))

	if out.Status != StatusFailed || out.FailureKind != fault.KindDecode {
		t.Errorf("outcome = %v/%v, want %v/%v", out.Status, out.FailureKind, StatusFailed, fault.KindDecode)
	}
	if out.Stage != StageDownloaded {
		t.Errorf("Stage = %v, want %v", out.Stage, StageDownloaded)
	}
	assertStagingEmpty(t, root)
}

func TestProcessOneNestedKeyFlattens(t *testing.T) {
	root := t.TempDir()
	objects := newFakeObjectStore()
	objects.addObject("src", "albums/2026/cake.jpg", encodeJPEG(t, 100, 100))
	records := &fakeRecordStore{}
	p := New(testConfig(root), staging.New(root), objects, records)

	out := p.ProcessOne(context.Background(), testNotification("src", "albums/2026/cake.jpg"))

	if out.Status != StatusSucceeded {
		t.Fatalf("Status = %v, want %v (err: %v)", out.Status, StatusSucceeded, out.Err)
	}
	if out.DestKey != "resized-cake.jpg" {
		t.Errorf("DestKey = %q, want resized-cake.jpg", out.DestKey)
	}
}

func TestProcessOneDeterministicNaming(t *testing.T) {
	root := t.TempDir()
	objects := newFakeObjectStore()
	objects.addObject("src", "cake.jpg", encodeJPEG(t, 100, 100))
	records := &fakeRecordStore{}
	p := New(testConfig(root), staging.New(root), objects, records)
	n := testNotification("src", "cake.jpg")

	first := p.ProcessOne(context.Background(), n)
	second := p.ProcessOne(context.Background(), n)

	// Same destination key both times: the second upload overwrites
	// the first object, while history keeps one record per run.
	if first.DestKey != second.DestKey {
		t.Errorf("destination keys differ: %q vs %q", first.DestKey, second.DestKey)
	}
	if first.RecordID == second.RecordID {
		t.Errorf("both runs share record ID %q, want distinct identifiers", first.RecordID)
	}
	if len(records.records) != 2 {
		t.Errorf("persisted %d records, want 2", len(records.records))
	}
}

func TestProcessMalformedRecordSkipsToSiblings(t *testing.T) {
	root := t.TempDir()
	objects := newFakeObjectStore()
	objects.addObject("src", "a.jpg", encodeJPEG(t, 100, 100))
	records := &fakeRecordStore{}
	p := New(testConfig(root), staging.New(root), objects, records)

	batch := p.Process(context.Background(), events.S3Event{Records: []events.S3EventRecord{
		s3Record("", "ghost.jpg"),
		s3Record("src", "a.jpg"),
	}})

	if batch.Failed != 1 || batch.Succeeded != 1 {
		t.Fatalf("batch counts = %d succeeded / %d failed, want 1/1", batch.Succeeded, batch.Failed)
	}
	if batch.Outcomes[0].FailureKind != fault.KindMalformedEvent {
		t.Errorf("first outcome kind = %v, want %v", batch.Outcomes[0].FailureKind, fault.KindMalformedEvent)
	}
	if batch.Outcomes[1].Status != StatusSucceeded {
		t.Errorf("second outcome = %v, want %v", batch.Outcomes[1].Status, StatusSucceeded)
	}
}

func TestBatchResultResourceFailure(t *testing.T) {
	var batch BatchResult
	batch.add(Outcome{Status: StatusSucceeded})
	batch.add(Outcome{Status: StatusFailed, FailureKind: fault.KindDecode})
	if batch.ResourceFailure() != nil {
		t.Error("ResourceFailure() != nil for decode failure, want nil")
	}

	batch.add(Outcome{Status: StatusFailed, FailureKind: fault.KindResource, Key: "big.tiff"})
	got := batch.ResourceFailure()
	if got == nil || got.Key != "big.tiff" {
		t.Errorf("ResourceFailure() = %+v, want the resource-failed outcome", got)
	}
}

func TestPropertiesFromMetadataMissingKey(t *testing.T) {
	if _, err := PropertiesFromMetadata(map[string]string{"source-width": "10"}, "source"); err == nil {
		t.Error("PropertiesFromMetadata() = nil error for incomplete metadata")
	}
}

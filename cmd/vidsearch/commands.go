package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/snarg/vidsearch/internal/api"
	"github.com/snarg/vidsearch/internal/index"
	"github.com/snarg/vidsearch/internal/ingest"
	"github.com/snarg/vidsearch/internal/metrics"
	"github.com/snarg/vidsearch/internal/paths"
)

// runIngest processes one video. Any failure exits non-zero.
func runIngest(args []string) int {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	o := commonFlags(fs)
	video := fs.String("video", "", "Video reference, e.g. gs://bucket/raw/talk.mp4")
	skipVision := fs.Bool("skip-vision", false, "Skip visual-text detection")
	skipAudio := fs.Bool("skip-audio-extraction", false, "Use the existing audio object")
	force := fs.Bool("force", false, "Reprocess even if a transcript exists")
	doIndex := fs.Bool("index", false, "Index the transcript into DATABASE_URL after processing")
	fs.Parse(args)

	if *video == "" && fs.NArg() > 0 {
		*video = fs.Arg(0)
	}
	if *video == "" {
		fmt.Fprintln(os.Stderr, "ingest: -video is required")
		fs.Usage()
		return 2
	}

	a, ctx, stop := setup(o)
	defer stop()

	mq := a.connectMQTT("")
	if mq != nil {
		defer mq.Close()
	}

	var ix *index.Indexer
	if *doIndex {
		db, err := a.openDB(ctx)
		if err != nil || db == nil {
			a.log.Error().Err(err).Msg("-index needs a reachable DATABASE_URL")
			return 1
		}
		defer db.Close()
		ix = a.indexer(db, true)
	}

	p, err := a.pipeline(ctx, a.sinks(nil, mq, ix))
	if err != nil {
		a.log.Error().Err(err).Msg("pipeline setup failed")
		return 1
	}

	out := p.RunOne(ctx, *video, ingest.Options{
		SkipVision:          *skipVision,
		SkipAudioExtraction: *skipAudio,
		Force:               *force,
	})
	switch out.Status {
	case ingest.StatusFailed:
		fmt.Fprintf(os.Stderr, "FAILED %s (%s): %s\n", out.Video, out.Reason, out.Message())
		return 1
	case ingest.StatusSkipped:
		fmt.Printf("skipped %s: %s already exists (use -force to reprocess)\n", out.Video, out.Transcript)
	default:
		fmt.Printf("processed %s: %d segments -> %s (%s)\n", out.Video, out.Segments, out.Transcript, out.Elapsed.Round(time.Second))
		if out.VisionErr != nil {
			fmt.Printf("  warning: no slide text: %v\n", out.VisionErr)
		}
	}
	return 0
}

// runBatch processes every unprocessed video in a bucket. Individual video
// failures are reported but the exit code is zero once the batch completes.
func runBatch(args []string) int {
	fs := flag.NewFlagSet("batch", flag.ExitOnError)
	o := commonFlags(fs)
	bucketFlag := fs.String("bucket", "", "Bucket holding raw/ and processed_json/, e.g. gs://media")
	force := fs.Bool("force", false, "Reprocess every raw video")
	skipVision := fs.Bool("skip-vision", false, "Skip visual-text detection")
	skipAudio := fs.Bool("skip-audio-extraction", false, "Use existing audio objects")
	only := fs.String("only", "", "Process only raw/<file>")
	debug := fs.Bool("debug", false, "List every object in the bucket before planning")
	doIndex := fs.Bool("index", false, "Index each new transcript into DATABASE_URL")
	fs.Parse(args)

	if *bucketFlag == "" {
		fmt.Fprintln(os.Stderr, "batch: -bucket is required")
		fs.Usage()
		return 2
	}
	bucket, err := paths.ParseBucket(*bucketFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "batch: %v\n", err)
		return 2
	}

	a, ctx, stop := setup(o)
	defer stop()

	mq := a.connectMQTT("")
	if mq != nil {
		defer mq.Close()
	}

	var ix *index.Indexer
	if *doIndex {
		db, err := a.openDB(ctx)
		if err != nil || db == nil {
			a.log.Error().Err(err).Msg("-index needs a reachable DATABASE_URL")
			return 1
		}
		defer db.Close()
		ix = a.indexer(db, true)
	}

	p, err := a.pipeline(ctx, a.sinks(nil, mq, ix))
	if err != nil {
		a.log.Error().Err(err).Msg("pipeline setup failed")
		return 1
	}
	b := ingest.NewBatch(p, a.store, a.log)

	if *debug {
		objs, err := b.Listing(ctx, bucket)
		if err != nil {
			a.log.Error().Err(err).Msg("bucket listing failed")
			return 1
		}
		fmt.Printf("%d objects in %s:\n", len(objs), bucket)
		for _, obj := range objs {
			fmt.Printf("  %12d  %s\n", obj.Size, obj.Ref.Key)
		}
	}

	plan, found, err := b.Select(ctx, bucket, ingest.Selection{Force: *force, Only: *only})
	if err != nil {
		a.log.Error().Err(err).Msg("batch planning failed")
		return 1
	}
	fmt.Printf("found %d videos, %d to process\n", found, len(plan))
	if len(plan) == 0 {
		fmt.Println("nothing to do")
		return 0
	}

	report := b.Run(ctx, plan, ingest.Options{
		SkipVision:          *skipVision,
		SkipAudioExtraction: *skipAudio,
		Force:               *force,
	})
	printReport(report)
	return 0
}

func printReport(r ingest.Report) {
	fmt.Printf("\nbatch complete in %s\n", r.Elapsed.Round(time.Second))
	fmt.Printf("  succeeded: %d\n", r.Succeeded)
	fmt.Printf("  failed:    %d\n", r.Failed)
	fmt.Printf("  skipped:   %d\n", r.Skipped)
	fmt.Printf("  total:     %d\n", r.Total())
	for _, f := range r.Failures() {
		fmt.Printf("  FAILED %s (%s): %s\n", f.Video, f.Reason, f.Message())
	}
	if r.Interrupted {
		fmt.Println("  interrupted before every video ran")
	}
}

// runWatch queues new videos from the local raw/ directory and from the MQTT
// request topic, runs them one at a time and serves health, metrics and the
// event stream.
func runWatch(args []string) int {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	o := commonFlags(fs)
	bucketFlag := fs.String("bucket", "", "Bucket to watch (default: WATCH_BUCKET)")
	skipVision := fs.Bool("skip-vision", false, "Skip visual-text detection")
	fs.Parse(args)

	a, ctx, stop := setup(o)
	defer stop()
	cfg := a.cfg

	if *bucketFlag == "" {
		*bucketFlag = cfg.WatchBucket
	}
	bucket, err := paths.ParseBucket(*bucketFlag)
	if err != nil {
		a.log.Error().Err(err).Msg("watch needs -bucket or WATCH_BUCKET")
		return 2
	}
	if bucket.Key != "" && bucket.Key != "/" {
		a.log.Error().Str("bucket", bucket.String()).Err(ingest.ErrBucketPrefix).Msg("watch needs a bucket root")
		return 2
	}

	db, err := a.openDB(ctx)
	if err != nil {
		a.log.Error().Err(err).Msg("database unavailable")
		return 1
	}
	var ix *index.Indexer
	if db != nil {
		defer db.Close()
		ix = a.indexer(db, true)
	}

	mq := a.connectMQTT(cfg.MQTTRequestTopic)
	if mq != nil {
		defer mq.Close()
	}

	bus := ingest.NewEventBus(500)
	p, err := a.pipeline(ctx, a.sinks(bus, mq, ix))
	if err != nil {
		a.log.Error().Err(err).Msg("pipeline setup failed")
		return 1
	}

	queue := ingest.NewQueue(ingest.QueueOptions{
		Runner:    p,
		Options:   ingest.Options{SkipVision: *skipVision},
		QueueSize: cfg.IngestQueueSize,
		Log:       a.log,
	})
	queue.Start()
	defer queue.Stop()

	if mq != nil {
		mq.SetMessageHandler(func(topic string, payload []byte) {
			ref, ok := requestRef(payload)
			if !ok {
				a.log.Warn().Str("topic", topic).Msg("ignoring malformed ingest request")
				return
			}
			if !queue.Enqueue(ref) {
				a.log.Warn().Str("video", ref).Msg("ingest queue full or video already queued")
			}
		})
	}

	opts := a.serverOptions(db, mq)
	opts.Events = bus
	opts.Queue = queue
	opts.Embedder = a.embedder()

	if cfg.StorageBackend == "" || cfg.StorageBackend == "local" {
		w := ingest.NewWatcher(ingest.WatcherOptions{
			Dir:      filepath.Join(cfg.LocalStorageDir, bucket.Bucket, paths.RawDir),
			Bucket:   bucket,
			Queue:    queue,
			Backfill: cfg.WatchBackfill,
			Debounce: cfg.WatchDebounce,
			Log:      a.log,
		})
		if err := w.Start(ctx); err != nil {
			a.log.Error().Err(err).Msg("file watcher failed to start")
			return 1
		}
		defer w.Stop()
		opts.Watcher = w
	} else if mq == nil {
		a.log.Error().Str("storage", cfg.StorageBackend).Msg("watch needs the local storage backend or an MQTT request topic")
		return 1
	}

	var collector *metrics.Collector
	if db != nil {
		collector = metrics.NewCollector(db.Pool, queue)
	} else {
		collector = metrics.NewCollector(nil, queue)
	}
	prometheus.MustRegister(collector)

	return a.serve(ctx, api.NewServer(opts))
}

// runIndex loads one artifact or a folder of artifacts into the database.
func runIndex(args []string) int {
	fs := flag.NewFlagSet("index", flag.ExitOnError)
	o := commonFlags(fs)
	artifactFlag := fs.String("artifact", "", "Transcript artifact, e.g. gs://media/processed_json/talk.json")
	folderFlag := fs.String("folder", "", "Folder of artifacts, e.g. gs://media/processed_json/")
	embed := fs.Bool("embed", false, "Store OpenAI embeddings of each segment")
	fs.Parse(args)

	if (*artifactFlag == "") == (*folderFlag == "") {
		fmt.Fprintln(os.Stderr, "index: exactly one of -artifact or -folder is required")
		fs.Usage()
		return 2
	}

	a, ctx, stop := setup(o)
	defer stop()

	db, err := a.openDB(ctx)
	if err != nil {
		a.log.Error().Err(err).Msg("database unavailable")
		return 1
	}
	if db == nil {
		a.log.Error().Msg("index needs DATABASE_URL")
		return 1
	}
	defer db.Close()

	if *embed && a.cfg.OpenAIAPIKey == "" {
		a.log.Error().Msg("-embed needs OPENAI_API_KEY")
		return 1
	}
	ix := a.indexer(db, *embed)

	if *artifactFlag != "" {
		ref, err := paths.ParseRef(*artifactFlag)
		if err != nil {
			fmt.Fprintf(os.Stderr, "index: %v\n", err)
			return 2
		}
		sum, err := ix.IndexArtifact(ctx, ref)
		if err != nil {
			a.log.Error().Err(err).Str("artifact", ref.String()).Msg("indexing failed")
			return 1
		}
		printSummary(sum)
		return 0
	}

	folder, err := paths.ParseBucket(*folderFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "index: %v\n", err)
		return 2
	}
	sums, err := ix.IndexFolder(ctx, folder)
	for _, s := range sums {
		printSummary(s)
	}
	fmt.Printf("indexed %d artifacts\n", len(sums))
	if err != nil {
		a.log.Error().Err(err).Msg("some artifacts failed to index")
		return 1
	}
	return 0
}

func printSummary(s index.Summary) {
	fmt.Printf("%s  video_id=%s  segments=%d  skipped=%d  embedded=%d  removed=%d\n",
		s.VideoTitle, s.VideoID, s.Segments, s.Skipped, s.Embedded, s.Removed)
}

// runServe runs the search and quiz API. Outcome events from other processes
// are relayed to the event stream when a broker is configured.
func runServe(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	o := commonFlags(fs)
	fs.Parse(args)

	a, ctx, stop := setup(o)
	defer stop()

	db, err := a.openDB(ctx)
	if err != nil {
		a.log.Error().Err(err).Msg("database unavailable")
		return 1
	}
	if db != nil {
		defer db.Close()
	} else {
		a.log.Warn().Msg("DATABASE_URL not set, search routes disabled")
	}

	bus := ingest.NewEventBus(500)
	mq := a.connectMQTT(a.cfg.MQTTTopicPrefix + "/#")
	if mq != nil {
		mq.SetMessageHandler(forwardEvents(bus, a.log))
		defer mq.Close()
	}

	gen, err := a.quizGenerator()
	if err != nil {
		a.log.Error().Err(err).Msg("quiz setup failed")
		return 1
	}

	opts := a.serverOptions(db, mq)
	opts.Events = bus
	opts.Embedder = a.embedder()
	opts.Quiz = gen

	if db != nil {
		prometheus.MustRegister(metrics.NewCollector(db.Pool, nil))
		if total, embedded, err := db.EmbeddingStats(ctx); err == nil {
			a.log.Info().Int("segments", total).Int("embedded", embedded).Msg("index loaded")
		}
	}

	return a.serve(ctx, api.NewServer(opts))
}

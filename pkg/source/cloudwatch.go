package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"

	"github.com/ccollicutt/reqtrace/pkg/config"
	"github.com/ccollicutt/reqtrace/pkg/event"
)

// LogsClient is the subset of the CloudWatch Logs API the source uses.
type LogsClient interface {
	FilterLogEvents(ctx context.Context, params *cloudwatchlogs.FilterLogEventsInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.FilterLogEventsOutput, error)
}

// Columns set on every CloudWatch row.
const (
	CloudWatchTimestampColumn = "timestamp"
	CloudWatchMessageColumn   = "message"
	CloudWatchGroupColumn     = "log_group"
	CloudWatchStreamColumn    = "log_stream"
)

const cloudWatchWorkers = 4

// NewCloudWatchClient loads AWS configuration with an optional region and
// shared profile.
func NewCloudWatchClient(ctx context.Context, region, profile string) (*cloudwatchlogs.Client, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	if profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(profile))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}
	return cloudwatchlogs.NewFromConfig(cfg), nil
}

type logRecord struct {
	timestamp time.Time
	group     string
	stream    string
	message   string
}

// CloudWatchSource fetches a bounded time range from several log groups once
// and yields the events as rows in timestamp order.
type CloudWatchSource struct {
	client LogsClient
	cfg    config.CloudWatchConfig
	fields *FieldExtractor
	now    func() time.Time

	records []logRecord
	fetched bool
	pos     int
}

// NewCloudWatchSource creates a source over the configured groups. When
// fields is non-empty each message is also mapped through JMESPath.
func NewCloudWatchSource(client LogsClient, cfg config.CloudWatchConfig, fields map[string]string) (*CloudWatchSource, error) {
	if len(cfg.Groups) == 0 {
		return nil, errors.New("no log groups configured")
	}
	s := &CloudWatchSource{client: client, cfg: cfg, now: time.Now}
	if len(fields) > 0 {
		fx, err := NewFieldExtractor(fields)
		if err != nil {
			return nil, err
		}
		s.fields = fx
	}
	return s, nil
}

// Name identifies the batch.
func (s *CloudWatchSource) Name() string {
	return "cloudwatch"
}

// Next returns the next fetched event. The first call performs the fetch.
func (s *CloudWatchSource) Next(ctx context.Context) (*event.Row, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	if !s.fetched {
		records, err := s.fetch(ctx)
		if err != nil {
			return nil, err
		}
		s.records, s.fetched = records, true
	}
	if s.pos >= len(s.records) {
		return nil, io.EOF
	}
	rec := s.records[s.pos]
	s.pos++

	var row event.Row
	if s.fields != nil {
		row = s.fields.Extract(rec.message)
	}
	if _, ok := row.Get(CloudWatchTimestampColumn); !ok {
		row.Set(CloudWatchTimestampColumn, rec.timestamp.UTC().Format(time.RFC3339Nano))
	}
	if _, ok := row.Get(CloudWatchMessageColumn); !ok {
		row.Set(CloudWatchMessageColumn, rec.message)
	}
	row.Set(CloudWatchGroupColumn, rec.group)
	row.Set(CloudWatchStreamColumn, rec.stream)
	return &row, nil
}

// Close is a no-op.
func (s *CloudWatchSource) Close() error {
	return nil
}

func (s *CloudWatchSource) window() (time.Time, time.Time) {
	end := s.cfg.End
	if end.IsZero() {
		end = s.now()
	}
	start := s.cfg.Start
	if start.IsZero() {
		since := s.cfg.Since
		if since <= 0 {
			since = config.DefaultCloudWatchSince
		}
		start = end.Add(-since)
	}
	return start, end
}

// fetch searches every group on a small worker pool and merges the results.
func (s *CloudWatchSource) fetch(ctx context.Context) ([]logRecord, error) {
	start, end := s.window()
	startMs, endMs := start.UnixMilli(), end.UnixMilli()

	groups := make(chan string, len(s.cfg.Groups))
	for _, g := range s.cfg.Groups {
		groups <- g
	}
	close(groups)

	results := make(chan []logRecord, len(s.cfg.Groups))
	errs := make(chan error, len(s.cfg.Groups))

	var wg sync.WaitGroup
	for i := 0; i < cloudWatchWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for group := range groups {
				records, err := s.searchGroup(ctx, group, startMs, endMs)
				if err != nil {
					errs <- fmt.Errorf("searching log group %s: %w", group, err)
					return
				}
				results <- records
			}
		}()
	}
	wg.Wait()
	close(results)
	close(errs)

	if err := <-errs; err != nil {
		return nil, err
	}

	var all []logRecord
	for records := range results {
		all = append(all, records...)
	}
	sort.SliceStable(all, func(i, j int) bool {
		a, b := all[i], all[j]
		if !a.timestamp.Equal(b.timestamp) {
			return a.timestamp.Before(b.timestamp)
		}
		if a.group != b.group {
			return a.group < b.group
		}
		return a.stream < b.stream
	})
	return all, nil
}

func (s *CloudWatchSource) searchGroup(ctx context.Context, group string, startMs, endMs int64) ([]logRecord, error) {
	var records []logRecord
	var next *string
	for {
		in := &cloudwatchlogs.FilterLogEventsInput{
			LogGroupName: aws.String(group),
			StartTime:    aws.Int64(startMs),
			EndTime:      aws.Int64(endMs),
			NextToken:    next,
		}
		if s.cfg.FilterPattern != "" {
			in.FilterPattern = aws.String(s.cfg.FilterPattern)
		}
		out, err := s.client.FilterLogEvents(ctx, in)
		if err != nil {
			return nil, err
		}
		for _, e := range out.Events {
			records = append(records, logRecord{
				timestamp: time.UnixMilli(aws.ToInt64(e.Timestamp)),
				group:     group,
				stream:    aws.ToString(e.LogStreamName),
				message:   aws.ToString(e.Message),
			})
		}
		if out.NextToken == nil || (next != nil && aws.ToString(out.NextToken) == aws.ToString(next)) {
			break
		}
		next = out.NextToken
	}
	return records, nil
}

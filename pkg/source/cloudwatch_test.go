package source

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ccollicutt/reqtrace/pkg/config"
)

type fakeLogsClient struct {
	mu     sync.Mutex
	pages  map[string][]*cloudwatchlogs.FilterLogEventsOutput
	errs   map[string]error
	inputs []*cloudwatchlogs.FilterLogEventsInput
}

func (f *fakeLogsClient) FilterLogEvents(_ context.Context, in *cloudwatchlogs.FilterLogEventsInput, _ ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.FilterLogEventsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inputs = append(f.inputs, in)

	group := aws.ToString(in.LogGroupName)
	if err := f.errs[group]; err != nil {
		return nil, err
	}
	pages := f.pages[group]
	if len(pages) == 0 {
		return &cloudwatchlogs.FilterLogEventsOutput{}, nil
	}
	page := 0
	if in.NextToken != nil {
		for i := range pages {
			if aws.ToString(pages[i].NextToken) == aws.ToString(in.NextToken) {
				page = i + 1
				break
			}
		}
	}
	return pages[page], nil
}

func logEvent(ms int64, stream, message string) types.FilteredLogEvent {
	return types.FilteredLogEvent{
		Timestamp:     aws.Int64(ms),
		LogStreamName: aws.String(stream),
		Message:       aws.String(message),
	}
}

func TestCloudWatchSource_PaginatesAndSorts(t *testing.T) {
	client := &fakeLogsClient{pages: map[string][]*cloudwatchlogs.FilterLogEventsOutput{
		"/app/api": {
			{Events: []types.FilteredLogEvent{logEvent(3000, "s1", "third")}, NextToken: aws.String("p2")},
			{Events: []types.FilteredLogEvent{logEvent(1000, "s1", "first")}},
		},
		"/app/worker": {
			{Events: []types.FilteredLogEvent{logEvent(2000, "s2", "second")}},
		},
	}}

	end := time.UnixMilli(10_000)
	src, err := NewCloudWatchSource(client, config.CloudWatchConfig{
		Groups:        []string{"/app/api", "/app/worker"},
		FilterPattern: "RequestId",
		End:           end,
		Since:         5 * time.Second,
	}, nil)
	require.NoError(t, err)

	rows := drain(t, src)
	require.Len(t, rows, 3)
	assert.Equal(t, "first", value(rows[0], CloudWatchMessageColumn))
	assert.Equal(t, "second", value(rows[1], CloudWatchMessageColumn))
	assert.Equal(t, "/app/worker", value(rows[1], CloudWatchGroupColumn))
	assert.Equal(t, "s2", value(rows[1], CloudWatchStreamColumn))
	assert.Equal(t, "third", value(rows[2], CloudWatchMessageColumn))
	assert.Equal(t, "1970-01-01T00:00:01Z", value(rows[0], CloudWatchTimestampColumn))

	require.Len(t, client.inputs, 3)
	for _, in := range client.inputs {
		assert.Equal(t, int64(5_000), aws.ToInt64(in.StartTime))
		assert.Equal(t, int64(10_000), aws.ToInt64(in.EndTime))
		assert.Equal(t, "RequestId", aws.ToString(in.FilterPattern))
	}
}

func TestCloudWatchSource_JSONFields(t *testing.T) {
	client := &fakeLogsClient{pages: map[string][]*cloudwatchlogs.FilterLogEventsOutput{
		"g": {{Events: []types.FilteredLogEvent{
			logEvent(1000, "s", `{"msg":"hello","rid":"r1","service":"api"}`),
		}}},
	}}

	src, err := NewCloudWatchSource(client, config.CloudWatchConfig{Groups: []string{"g"}},
		map[string]string{"message": "msg", "requestId": "rid", "service": "service"})
	require.NoError(t, err)

	rows := drain(t, src)
	require.Len(t, rows, 1)
	assert.Equal(t, "hello", value(rows[0], "message"))
	assert.Equal(t, "r1", value(rows[0], "requestId"))
	assert.Equal(t, "api", value(rows[0], "service"))
	assert.Equal(t, "1970-01-01T00:00:01Z", value(rows[0], CloudWatchTimestampColumn))
}

func TestCloudWatchSource_Error(t *testing.T) {
	client := &fakeLogsClient{errs: map[string]error{"g": errors.New("throttled")}}
	src, err := NewCloudWatchSource(client, config.CloudWatchConfig{Groups: []string{"g"}}, nil)
	require.NoError(t, err)

	_, err = ReadBatch(context.Background(), src.Name(), src)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "throttled")
	assert.Contains(t, err.Error(), "searching log group g")
}

func TestCloudWatchSource_Window(t *testing.T) {
	now := time.Date(2025, 11, 21, 11, 0, 0, 0, time.UTC)
	tests := []struct {
		name      string
		cfg       config.CloudWatchConfig
		wantStart time.Time
		wantEnd   time.Time
	}{
		{
			name:      "defaults to the last hour",
			cfg:       config.CloudWatchConfig{},
			wantStart: now.Add(-time.Hour),
			wantEnd:   now,
		},
		{
			name:      "since relative to now",
			cfg:       config.CloudWatchConfig{Since: 15 * time.Minute},
			wantStart: now.Add(-15 * time.Minute),
			wantEnd:   now,
		},
		{
			name:      "explicit range",
			cfg:       config.CloudWatchConfig{Start: now.Add(-2 * time.Hour), End: now.Add(-time.Hour)},
			wantStart: now.Add(-2 * time.Hour),
			wantEnd:   now.Add(-time.Hour),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.cfg.Groups = []string{"g"}
			src, err := NewCloudWatchSource(&fakeLogsClient{}, tt.cfg, nil)
			require.NoError(t, err)
			src.now = func() time.Time { return now }

			start, end := src.window()
			assert.Equal(t, tt.wantStart, start)
			assert.Equal(t, tt.wantEnd, end)
		})
	}
}

func TestNewCloudWatchSource_Validation(t *testing.T) {
	_, err := NewCloudWatchSource(&fakeLogsClient{}, config.CloudWatchConfig{}, nil)
	assert.Error(t, err)

	_, err = NewCloudWatchSource(&fakeLogsClient{}, config.CloudWatchConfig{Groups: []string{"g"}}, map[string]string{"x": "[[["})
	assert.Error(t, err)
}

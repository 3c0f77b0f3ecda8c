package logs

import (
	"context"
	"fmt"
	"time"

	"github.com/DataDog/datadog-api-client-go/v2/api/datadog"
	"github.com/DataDog/datadog-api-client-go/v2/api/datadogV2"
)

// Datadog queries the Datadog Logs API for worker output. Workers tag every
// line with their meeting id, so one attribute query retrieves the whole
// stream.
type Datadog struct {
	api       *datadogV2.LogsApi
	apiKey    string
	appKey    string
	site      string
	queryDays int
	now       func() time.Time
}

func NewDatadog(apiKey, appKey, site string, queryDays int) *Datadog {
	cfg := datadog.NewConfiguration()
	return &Datadog{
		api:       datadogV2.NewLogsApi(datadog.NewAPIClient(cfg)),
		apiKey:    apiKey,
		appKey:    appKey,
		site:      site,
		queryDays: queryDays,
		now:       time.Now,
	}
}

func (d *Datadog) authContext(ctx context.Context) context.Context {
	ctx = context.WithValue(ctx, datadog.ContextAPIKeys, map[string]datadog.APIKey{
		"apiKeyAuth": {Key: d.apiKey},
		"appKeyAuth": {Key: d.appKey},
	})
	if d.site != "" {
		ctx = context.WithValue(ctx, datadog.ContextServerVariables, map[string]string{
			"site": d.site,
		})
	}
	return ctx
}

func (d *Datadog) Search(ctx context.Context, meetingID string, limit int) ([]string, error) {
	if d.apiKey == "" || d.appKey == "" {
		return nil, ErrNoCredentials
	}
	to := d.now().UTC()
	from := to.AddDate(0, 0, -d.queryDays)
	body := datadogV2.LogsListRequest{
		Filter: &datadogV2.LogsQueryFilter{
			Query: datadog.PtrString(fmt.Sprintf("@meeting_id:%s", meetingID)),
			From:  datadog.PtrString(from.Format(time.RFC3339)),
			To:    datadog.PtrString(to.Format(time.RFC3339)),
		},
		Sort: datadogV2.LOGSSORT_TIMESTAMP_ASCENDING.Ptr(),
		Page: &datadogV2.LogsListRequestPage{
			Limit: datadog.PtrInt32(int32(limit)),
		},
	}
	resp, _, err := d.api.ListLogs(d.authContext(ctx),
		*datadogV2.NewListLogsOptionalParameters().WithBody(body))
	if err != nil {
		return nil, fmt.Errorf("search logs for meeting %s: %w", meetingID, err)
	}

	lines := make([]string, 0, len(resp.Data))
	for _, entry := range resp.Data {
		if entry.Attributes == nil {
			continue
		}
		line := ""
		if entry.Attributes.Timestamp != nil {
			line = entry.Attributes.Timestamp.UTC().Format("2006-01-02T15:04:05.000Z") + " "
		}
		if entry.Attributes.Status != nil {
			line += "[" + *entry.Attributes.Status + "] "
		}
		if entry.Attributes.Message != nil {
			line += *entry.Attributes.Message
		}
		lines = append(lines, line)
	}
	return lines, nil
}

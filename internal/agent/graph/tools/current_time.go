package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/components/tool/utils"
	"github.com/cloudwego/eino/schema"

	"github.com/chative-core/workflow/internal/agent/graph/parsers"
)

const CurrentTimeName = "current_time"

type CurrentTimeInput struct {
	Timezone string `json:"timezone,omitempty"`
}

type CurrentTimeOutput struct {
	Time     string `json:"time"`
	Timezone string `json:"timezone"`
	Weekday  string `json:"weekday"`
}

// NewCurrentTimeTool reports the wall clock in an IANA timezone.
func NewCurrentTimeTool(now func() time.Time) tool.InvokableTool {
	if now == nil {
		now = time.Now
	}
	return utils.NewTool(
		&schema.ToolInfo{
			Name: CurrentTimeName,
			Desc: "Get the current date and time. Use this tool when the user asks about today's date, the time, or relative dates.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"timezone": {
					Type: schema.String,
					Desc: "IANA timezone name such as Asia/Bangkok or Europe/Berlin (default: UTC)",
				},
			}),
		},
		func(ctx context.Context, in *CurrentTimeInput) (*CurrentTimeOutput, error) {
			tz := in.Timezone
			if tz == "" {
				tz = "UTC"
			}
			loc, err := time.LoadLocation(tz)
			if err != nil {
				return nil, fmt.Errorf("unknown timezone %q", tz)
			}
			t := now().In(loc)
			return &CurrentTimeOutput{
				Time:     t.Format(time.RFC3339),
				Timezone: loc.String(),
				Weekday:  t.Weekday().String(),
			}, nil
		},
	)
}

// CurrentTimeRules trims the timezone argument.
var CurrentTimeRules = map[string]parsers.ArgRule{
	"timezone": {Kind: "string"},
}

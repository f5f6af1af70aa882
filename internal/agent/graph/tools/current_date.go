package tools

import (
	"context"
	"time"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/components/tool/utils"
	"github.com/cloudwego/eino/schema"
)

const ToolCurrentDate = "get_current_date"

type currentDateInput struct{}

// NewCurrentDateTool returns the local time as ISO-8601. now defaults to time.Now.
func NewCurrentDateTool(now func() time.Time) tool.InvokableTool {
	if now == nil {
		now = time.Now
	}
	return utils.NewTool(
		&schema.ToolInfo{
			Name: ToolCurrentDate,
			Desc: "Get the current date and time in ISO-8601 format. Use it to resolve relative dates such as \"last week\" before querying other tools.",
		},
		func(ctx context.Context, _ *currentDateInput) (string, error) {
			return now().Format(time.RFC3339), nil
		},
	)
}

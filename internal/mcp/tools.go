package mcp

import "github.com/mark3labs/mcp-go/mcp"

func deviceParam() mcp.ToolOption {
	return mcp.WithString("device_id",
		mcp.Description("Device the episodes belong to. Defaults to this machine's device id."),
	)
}

func symptomsParam(desc string) mcp.ToolOption {
	return mcp.WithArray("symptoms",
		mcp.Required(),
		mcp.Description(desc),
		mcp.WithStringItems(),
	)
}

func dayThresholdParam() mcp.ToolOption {
	return mcp.WithNumber("day_threshold",
		mcp.Description("Maximum gap in days for joining an active episode. Defaults to the configured value."),
	)
}

var previewToolDef = mcp.NewTool("episode_preview",
	mcp.WithDescription("Show which episode a symptom entry would join, without writing anything."),
	deviceParam(),
	mcp.WithString("date", mcp.Description("Entry date, YYYY-MM-DD. Defaults to today.")),
	symptomsParam("Symptoms being reported."),
	dayThresholdParam(),
)

var logToolDef = mcp.NewTool("episode_log",
	mcp.WithDescription("Log a symptom entry. The symptoms are analyzed, the entry is assigned to an episode "+
		"(joining an active one within the day threshold, or starting a new one) and stored. "+
		"Nothing is stored when analysis fails."),
	deviceParam(),
	mcp.WithString("date", mcp.Description("Entry date, YYYY-MM-DD. Defaults to today.")),
	symptomsParam("Symptoms being reported, e.g. [\"Headache\", \"Fever\"]."),
	mcp.WithString("notes", mcp.Description("Free-form notes for the entry.")),
	dayThresholdParam(),
)

var listToolDef = mcp.NewTool("episode_list",
	mcp.WithDescription("List episodes for a device, newest start date first."),
	deviceParam(),
	mcp.WithBoolean("active_only", mcp.Description("Only return active episodes.")),
	mcp.WithNumber("limit", mcp.Description("Maximum results (default 20, max 100).")),
	mcp.WithNumber("offset", mcp.Description("Results to skip.")),
)

var getToolDef = mcp.NewTool("episode_get",
	mcp.WithDescription("Fetch one episode with all of its symptom entries in date order."),
	mcp.WithString("id", mcp.Required(), mcp.Description("Episode id.")),
)

var progressionToolDef = mcp.NewTool("episode_progression",
	mcp.WithDescription("Compare a set of symptoms with the episode's latest entry: new, resolved and ongoing symptoms, day number and trend."),
	mcp.WithString("id", mcp.Required(), mcp.Description("Episode id.")),
	symptomsParam("Symptoms to compare."),
)

var resolveToolDef = mcp.NewTool("episode_resolve",
	mcp.WithDescription("Mark an episode as resolved."),
	mcp.WithString("id", mcp.Required(), mcp.Description("Episode id.")),
	mcp.WithString("end_date", mcp.Description("Resolution date, YYYY-MM-DD. Defaults to today.")),
)

var deleteToolDef = mcp.NewTool("episode_delete",
	mcp.WithDescription("Permanently delete an episode and all of its entries."),
	mcp.WithDestructiveHintAnnotation(true),
	mcp.WithString("id", mcp.Required(), mcp.Description("Episode id.")),
)

var exportToolDef = mcp.NewTool("episode_export",
	mcp.WithDescription("Export episodes and entries to a JSONL file."),
	mcp.WithString("path", mcp.Description("Target .jsonl path. Defaults to a timestamped file in the exports directory.")),
	mcp.WithString("device_id", mcp.Description("Only export this device's episodes. Defaults to all devices.")),
)

var importToolDef = mcp.NewTool("episode_import",
	mcp.WithDescription("Import episodes and entries from a JSONL export file."),
	mcp.WithString("path", mcp.Required(), mcp.Description("Path of the .jsonl file.")),
	mcp.WithString("mode",
		mcp.Description("Collision handling: error (default, write nothing on any problem), replace, or skip."),
		mcp.Enum("error", "replace", "skip"),
	),
)

package dashboard

// ChannelSummary counts the cells of one channel
type ChannelSummary struct {
	Label        ToolChainLabel `json:"label"`
	MoonVersion  string         `json:"moon_version"`
	MooncVersion string         `json:"moonc_version"`
	Succeeded    int            `json:"succeeded"`
	Failed       int            `json:"failed"`
	Missing      int            `json:"missing"` // targets whose checkout failed
}

// Summary is the headline of a snapshot
type Summary struct {
	RunID     string         `json:"run_id"`
	RunNumber string         `json:"run_number"`
	StartTime string         `json:"start_time"`
	Sources   int            `json:"sources"`
	Stable    ChannelSummary `json:"stable"`
	Bleeding  ChannelSummary `json:"bleeding"`
}

// Summary counts successes, failures and failed checkouts per channel
func (d *MoonBuildDashboard) Summary() Summary {
	return Summary{
		RunID:     d.RunID,
		RunNumber: d.RunNumber,
		StartTime: d.StartTime,
		Sources:   len(d.Sources),
		Stable:    d.channelSummary(Stable),
		Bleeding:  d.channelSummary(Bleeding),
	}
}

func (d *MoonBuildDashboard) channelSummary(label ToolChainLabel) ChannelSummary {
	version, data := d.Channel(label)
	cs := ChannelSummary{Label: label, MoonVersion: version.MoonVersion, MooncVersion: version.MooncVersion}
	for _, bs := range data {
		for _, cbt := range bs.CBTs {
			if cbt == nil {
				cs.Missing++
				continue
			}
			ok, failed := cbt.Counts()
			cs.Succeeded += ok
			cs.Failed += failed
		}
	}
	return cs
}

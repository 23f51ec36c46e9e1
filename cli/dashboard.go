// ABOUTME: Dashboard CLI command
// ABOUTME: Prints contact, review queue and sync summaries
package cli

import (
	"context"
	"time"

	"github.com/harperreed/rolodex/viz"
)

// DashboardCommand prints the terminal dashboard.
func DashboardCommand(app *App, args []string) error {
	stats, err := viz.GenerateDashboardStats(context.Background(), app.DB, app.owner(), time.Now())
	if err != nil {
		return err
	}
	app.printf("%s", viz.RenderDashboard(stats))
	return nil
}

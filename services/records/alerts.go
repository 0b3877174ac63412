package main

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/suite33/backoffice/shared/events"
	"github.com/suite33/backoffice/shared/models"
)

// StockAlerter tells the business when a sale leaves an item at or under
// its low-stock threshold.
type StockAlerter struct {
	notifier events.Notifier
	channel  string
	alerts   prometheus.Counter
	logger   logrus.FieldLogger
}

func NewStockAlerter(notifier events.Notifier, channel string, reg prometheus.Registerer, logger logrus.FieldLogger) *StockAlerter {
	alerts := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "suite33",
		Name:      "low_stock_alerts_total",
		Help:      "Low-stock alerts raised after a sale.",
	})
	reg.MustRegister(alerts)

	return &StockAlerter{notifier: notifier, channel: channel, alerts: alerts, logger: logger}
}

// Check notifies if item is low on stock. Delivery failures are logged.
func (a *StockAlerter) Check(ctx context.Context, item *models.Inventory) bool {
	if item == nil || !item.IsLowStock() {
		return false
	}

	a.alerts.Inc()
	message := fmt.Sprintf("Low stock: %q (SKU %s) has %d left, threshold %d", item.Name, item.SKU, item.Quantity, item.LowStockThreshold)
	if err := a.notifier.Notify(context.WithoutCancel(ctx), a.channel, message); err != nil {
		a.logger.WithError(err).WithFields(logrus.Fields{
			"business_id":  item.BusinessID,
			"inventory_id": item.ID,
		}).Warn("failed to send low-stock alert")
	}
	return true
}

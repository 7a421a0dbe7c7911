package mercadopago

import (
	"context"
	"fmt"
	"net/http"
)

// Device is a Point terminal.
type Device struct {
	ID            string `json:"id"`
	OperatingMode string `json:"operating_mode"` // PDV | STANDALONE
	Status        string `json:"status,omitempty"`
}

// GetDevice fetches the terminal's current state.
func (c *Client) GetDevice(ctx context.Context, deviceID string) (*Device, error) {
	var dev Device
	if err := c.doRequest(ctx, http.MethodGet, "/point/integration-api/devices/"+deviceID, nil, nil, &dev); err != nil {
		return nil, fmt.Errorf("get device: %w", err)
	}
	if dev.ID == "" {
		dev.ID = deviceID
	}
	return &dev, nil
}

// PatchDeviceMode switches the terminal operating mode. PDV mode is required
// for the integration API to drive the device.
func (c *Client) PatchDeviceMode(ctx context.Context, deviceID, mode string) error {
	body := map[string]interface{}{"operating_mode": mode}
	if err := c.doRequest(ctx, http.MethodPatch, "/point/integration-api/devices/"+deviceID, body, nil, nil); err != nil {
		return fmt.Errorf("patch device mode: %w", err)
	}
	return nil
}

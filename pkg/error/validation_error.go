package error

import "net/http"

type ValidationError string

func (err ValidationError) Error() string {
	return string(err)
}

func (err ValidationError) ErrCode() string {
	return "VALIDATION_ERROR"
}

func (err ValidationError) StatusCode() int {
	return http.StatusBadRequest
}

// CampaignConfigurationError rejects a bulk send that cannot produce any task.
type CampaignConfigurationError string

func (err CampaignConfigurationError) Error() string {
	return string(err)
}

func (err CampaignConfigurationError) ErrCode() string {
	return "CAMPAIGN_CONFIGURATION_ERROR"
}

func (err CampaignConfigurationError) StatusCode() int {
	return http.StatusBadRequest
}

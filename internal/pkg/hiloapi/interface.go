package hiloapi

import (
	"context"
	"time"

	"github.com/etiennebl/hilolink/internal/pkg/devices"
)

// Location is one site registered to the account.
type Location struct {
	ID                int64  `json:"id"`
	LocationHiloID    string `json:"locationHiloId"`
	Name              string `json:"name"`
	EnergyCostConfig  bool   `json:"energyCostConfigured"`
	TemperatureFormat string `json:"temperatureFormat"`
}

// Weather is the site's current outdoor conditions.
type Weather struct {
	Temperature float64   `json:"temperature"`
	Time        time.Time `json:"time"`
	Condition   string    `json:"condition"`
	Icon        int       `json:"icon"`
	Humidity    float64   `json:"humidity"`
}

// SeasonEvent is one past challenge inside a season summary.
type SeasonEvent struct {
	ID           int64     `json:"id"`
	StartDateUTC time.Time `json:"startDateUtc"`
	Period       string    `json:"period"`
	Reward       float64   `json:"reward"`
	Status       string    `json:"status"`
}

// Season is one year's worth of challenge rewards.
type Season struct {
	Season      int           `json:"season"`
	TotalReward float64       `json:"totalReward"`
	Events      []SeasonEvent `json:"events"`
}

// ChallengePhaseTimes carries the scheduled phase boundaries of a challenge.
type ChallengePhaseTimes struct {
	PreheatStart   time.Time `json:"preheatStartDateUTC"`
	PreheatEnd     time.Time `json:"preheatEndDateUTC"`
	ReductionStart time.Time `json:"reductionStartDateUTC"`
	ReductionEnd   time.Time `json:"reductionEndDateUTC"`
	RecoveryStart  time.Time `json:"recoveryStartDateUTC"`
	RecoveryEnd    time.Time `json:"recoveryEndDateUTC"`
}

// ChallengeConsumption is the consumption block of a challenge record.
type ChallengeConsumption struct {
	CurrentWh       float64 `json:"currentWh"`
	BaselineWh      float64 `json:"baselineWh"`
	EstimatedReward float64 `json:"estimatedReward"`
}

// ChallengeDevice is one device enrolled in a challenge.
type ChallengeDevice struct {
	ID        int64  `json:"id"`
	DeviceUID string `json:"deviceUid"`
	Name      string `json:"name"`
	RoomName  string `json:"roomName"`
	OptOut    bool   `json:"optOut"`
	Preheat   bool   `json:"preheat"`
}

// ChallengeParameters carries the challenge mode and its enrolled devices.
type ChallengeParameters struct {
	Mode    string            `json:"mode"`
	Devices []ChallengeDevice `json:"devices"`
}

// ChallengeReport is the cloud's post-challenge verdict.
type ChallengeReport struct {
	Status               string  `json:"status"`
	Reward               float64 `json:"reward"`
	IsMissingBaseline    bool    `json:"isMissingBaseline"`
	IsMissingConsumption bool    `json:"isMissingConsumption"`
}

// Challenge is the wire shape of one demand-response event.
type Challenge struct {
	ID              int64                `json:"id"`
	Period          string               `json:"period"`
	CurrentPhase    string               `json:"currentPhase"`
	Progress        string               `json:"progress"`
	IsParticipating bool                 `json:"isParticipating"`
	IsConfigurable  bool                 `json:"isConfigurable"`
	IsPreSeason     bool                 `json:"isPreSeason"`
	Phases          ChallengePhaseTimes  `json:"phases"`
	Parameters      ChallengeParameters  `json:"parameters"`
	Consumption     ChallengeConsumption `json:"consumption"`
	Report          ChallengeReport      `json:"report"`
}

// EventNotification is one entry of the location's notification feed.
type EventNotification struct {
	ID                  int64     `json:"id"`
	EventID             int64     `json:"eventId"`
	EventTypeID         int       `json:"eventTypeId"`
	LocationID          int64     `json:"locationId"`
	DeviceID            int64     `json:"deviceId"`
	DeviceIdentifier    string    `json:"deviceIdentifier"`
	NotificationDateUTC time.Time `json:"notificationDateUTC"`
	NotificationTitle   string    `json:"notificationTitle"`
	NotificationBody    string    `json:"notificationBody"`
	Viewed              bool      `json:"viewed"`
}

// Automation is the vendor cloud REST surface the client consumes.
type Automation interface {
	WithTimeout(d time.Duration) Automation

	GetLocations(ctx context.Context) ([]Location, error)
	GetLocationID(ctx context.Context) (int64, error)
	GetDevices(ctx context.Context, locationID int64) ([]devices.Record, error)
	GetGateway(ctx context.Context, locationID int64) (devices.Record, error)
	SetDeviceAttribute(ctx context.Context, locationID, deviceID int64, attribute string, value interface{}) error
	GetWeather(ctx context.Context, locationID int64) (*Weather, error)
	GetSeasons(ctx context.Context, locationID int64) ([]Season, error)
	GetChallenges(ctx context.Context, locationID int64) ([]Challenge, error)
	GetChallenge(ctx context.Context, locationID, eventID int64) (*Challenge, error)
	GetEventNotifications(ctx context.Context, locationID int64) ([]EventNotification, error)
}

package services

import (
	"context"
	"fmt"

	"github.com/schoolways/bus-tracker-backend/internal/database"
	"github.com/schoolways/bus-tracker-backend/internal/models"
	"github.com/sirupsen/logrus"
)

// ProfileService loads user profiles
type ProfileService struct {
	store    database.DocumentStore
	geocoder AddressLocator
	logger   *logrus.Logger
}

// NewProfileService creates a new ProfileService
func NewProfileService(store database.DocumentStore, geocoder AddressLocator, logger *logrus.Logger) *ProfileService {
	return &ProfileService{store: store, geocoder: geocoder, logger: logger}
}

// Load returns users/{uid}. Student profiles missing enrollment fields are
// completed from studentCodes/{code} and the merge is persisted.
func (s *ProfileService) Load(ctx context.Context, uid string) (*models.Profile, error) {
	doc, err := s.store.Get(ctx, database.JoinPath("users", uid))
	if err != nil {
		return nil, fmt.Errorf("failed to load profile: %w", err)
	}
	if doc == nil {
		return nil, ErrProfileNotFound
	}

	var profile models.Profile
	if err := doc.Decode(&profile); err != nil {
		return nil, err
	}
	profile.UID = uid

	if profile.IsStudent() && profile.StudentCode != "" && needsEnrollment(&profile) {
		s.mergeStudentCode(ctx, &profile)
	}
	return &profile, nil
}

// LoadMonitor returns the profile only when it belongs to a monitor
func (s *ProfileService) LoadMonitor(ctx context.Context, uid string) (*models.Profile, error) {
	profile, err := s.Load(ctx, uid)
	if err != nil {
		return nil, err
	}
	if !profile.IsMonitor() {
		return nil, ErrNotMonitor
	}
	return profile, nil
}

// SchoolCoords returns the institution coordinates, geocoding the
// institution address when the profile carries none
func (s *ProfileService) SchoolCoords(ctx context.Context, profile *models.Profile) *models.LatLng {
	if coords := profile.InstitutionCoords(); coords != nil {
		return coords
	}
	address := profile.InstitutionAddress.String()
	if address == "" || s.geocoder == nil {
		return nil
	}
	result, err := s.geocoder.Geocode(ctx, address)
	if err != nil {
		s.logger.WithError(err).WithField("uid", profile.UID).Debug("institution geocoding failed")
		return nil
	}
	return &models.LatLng{Lat: result.Lat, Lng: result.Lng}
}

func needsEnrollment(p *models.Profile) bool {
	return p.StopAddress == "" || p.InstitutionCode == "" || p.Route == "" || p.StudentName == "" || !p.StopLat.Valid
}

func (s *ProfileService) mergeStudentCode(ctx context.Context, profile *models.Profile) {
	doc, err := s.store.Get(ctx, database.JoinPath("studentCodes", profile.StudentCode.String()))
	if err != nil || doc == nil {
		if err != nil {
			s.logger.WithError(err).WithField("uid", profile.UID).Debug("student code lookup failed")
		}
		return
	}
	var code models.StudentCode
	if err := doc.Decode(&code); err != nil {
		return
	}

	patch := map[string]any{}
	fill := func(field string, target *models.FlexString, value models.FlexString) {
		if *target == "" && value != "" {
			*target = value
			patch[field] = value.String()
		}
	}
	fill("stopAddress", &profile.StopAddress, code.StopAddress)
	fill("institutionCode", &profile.InstitutionCode, code.InstitutionCode)
	fill("institutionName", &profile.InstitutionName, code.InstitutionName)
	fill("institutionAddress", &profile.InstitutionAddress, code.InstitutionAddress)
	fill("route", &profile.Route, code.Route)
	fill("studentName", &profile.StudentName, code.StudentName)
	if !profile.StopLat.Valid && !profile.StopLng.Valid && code.StopLat.Valid && code.StopLng.Valid {
		profile.StopLat, profile.StopLng = code.StopLat, code.StopLng
		patch["stopLat"] = code.StopLat.Value
		patch["stopLng"] = code.StopLng.Value
	}
	if len(patch) == 0 {
		return
	}

	if err := s.store.Set(ctx, database.JoinPath("users", profile.UID), patch, true); err != nil {
		s.logger.WithError(err).WithField("uid", profile.UID).Warn("failed to persist student code merge")
		return
	}
	s.logger.WithFields(logrus.Fields{"uid": profile.UID, "fields": len(patch)}).Info("profile completed from student code")
}

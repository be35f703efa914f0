package db

import (
	"encoding/json"

	"github.com/liuran001/MusicPlayer-Go/core/media"
	"gorm.io/gorm"
)

// PreferenceModel stores one JSON-encoded player preference.
type PreferenceModel struct {
	gorm.Model
	Key   string `gorm:"uniqueIndex;not null"`
	Value string `gorm:"type:text;not null;default:''"`
}

func (PreferenceModel) TableName() string {
	return "preferences"
}

// LinkedLyricModel redirects lyric lookup of one media identity to another item.
type LinkedLyricModel struct {
	gorm.Model
	Platform string `gorm:"not null;index:idx_linked_lyric_source,unique"`
	MediaID  string `gorm:"not null;index:idx_linked_lyric_source,unique"`
	Target   string `gorm:"type:text;not null"`
}

func (LinkedLyricModel) TableName() string {
	return "linked_lyrics"
}

// UserVariableModel stores one user variable of one plugin.
type UserVariableModel struct {
	gorm.Model
	Platform string `gorm:"not null;index:idx_user_variable,unique"`
	Key      string `gorm:"not null;index:idx_user_variable,unique"`
	Value    string `gorm:"not null;default:''"`
}

func (UserVariableModel) TableName() string {
	return "plugin_user_variables"
}

func toLinkedModel(from media.Identity, target media.MusicItem) (*LinkedLyricModel, error) {
	encoded, err := json.Marshal(target)
	if err != nil {
		return nil, err
	}
	return &LinkedLyricModel{
		Platform: from.Platform,
		MediaID:  from.ID,
		Target:   string(encoded),
	}, nil
}

func linkedTarget(model LinkedLyricModel) (*media.MusicItem, error) {
	var item media.MusicItem
	if err := json.Unmarshal([]byte(model.Target), &item); err != nil {
		return nil, err
	}
	return &item, nil
}

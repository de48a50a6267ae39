package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// StreamFields 提供来源与缓存 key 字段，供缓存生命周期日志复用。
func StreamFields(action, source, key string) logrus.Fields {
	return logrus.Fields{
		"action": action,
		"source": source,
		"key":    key,
	}
}

// PlaybackFields 提供一次播放请求的来源、引用类型与请求 ID。
func PlaybackFields(source, kind, requestID string) logrus.Fields {
	fields := logrus.Fields{
		"action": "playback",
		"source": source,
		"kind":   kind,
	}
	if requestID != "" {
		fields["request_id"] = requestID
	}
	return fields
}

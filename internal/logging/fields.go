package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// RequestFields 提供路由、请求 ID、缓存键与状态码字段，供 HTTP 请求日志复用。
func RequestFields(route, requestID, key string, status int) logrus.Fields {
	return logrus.Fields{
		"action":     "request",
		"route":      route,
		"request_id": requestID,
		"key":        key,
		"status":     status,
	}
}

// ResolveFields 描述一次解析：缓存键与结果来源（memory/inflight/new）。
func ResolveFields(key, source string) logrus.Fields {
	return logrus.Fields{
		"action": "resolve",
		"key":    key,
		"source": source,
	}
}

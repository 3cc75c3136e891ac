// Package provider 管理当前的链连接快照，并在连接、切换和断开时整体替换。
package provider

package httpapi

import "net/http"

// demoPage is a minimal static page that subscribes to the live stream via
// EventSource and appends incoming records to a scrolling log. It exists
// purely as the HTML-negotiated branch of /v1/events/zabbix/ (spec §1 names
// it a thin external collaborator).
const demoPage = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>zbxrtx live events</title>
<style>
body { font: 13px monospace; background: #111; color: #ddd; margin: 0; padding: 1em; }
#log { white-space: pre-wrap; word-break: break-all; }
.family-problems { color: #f55; }
.family-history { color: #5af; }
.family-main-process, .family-task-manager { color: #fa5; }
.family-other { color: #888; }
</style>
</head>
<body>
<h3>zbxrtx — live events</h3>
<div id="log"></div>
<script>
const log = document.getElementById('log');
const es = new EventSource('/v1/events/zabbix/');
['problems', 'history', 'main-process', 'task-manager', 'other'].forEach(family => {
  es.addEventListener('zabbix.' + family, e => {
    const line = document.createElement('div');
    line.className = 'family-' + family;
    line.textContent = '[' + family + '] ' + e.data;
    log.appendChild(line);
    window.scrollTo(0, document.body.scrollHeight);
  });
});
</script>
</body>
</html>
`

func (s *Server) handleDemoPage(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(demoPage))
}

package dashboard

const indexHTML = `
<!DOCTYPE html>
<html>
<head>
    <title>Detection Dashboard</title>
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <link rel="stylesheet" href="/assets/dashboard.css">
    <style>
        body { margin: 0; font-family: sans-serif; background: #111827; color: #e5e7eb; }
        .header { display: flex; justify-content: space-between; align-items: center; padding: 12px 20px; background: #1f2937; }
        .grid { display: grid; grid-template-columns: 2fr 1fr; gap: 16px; padding: 16px; }
        .panel { background: #1f2937; border-radius: 8px; padding: 12px; }
        .badge { padding: 4px 10px; border-radius: 10px; font-size: 12px; background: #4b5563; }
        .badge.ok { background: #059669; }
        .badge.err { background: #dc2626; }
        .controls { display: flex; flex-wrap: wrap; gap: 8px; margin: 8px 0; }
        .log { font-family: monospace; font-size: 12px; white-space: pre-wrap; }
        .log.ERROR { color: #f87171; } .log.WARNING { color: #fbbf24; } .log.SUCCESS { color: #34d399; }
        img.feed { width: 100%; background: #000; }
        img.chart { width: 100%; }
        table { width: 100%; font-size: 12px; border-collapse: collapse; }
        td, th { padding: 2px 4px; text-align: left; }
    </style>
</head>
<body>
    <div class="header">
        <div class="title">Detection Dashboard</div>
        <div>
            <span class="badge" id="conn-badge">Connecting...</span>
            <span class="badge" id="stream-badge">idle</span>
        </div>
    </div>

    <div class="grid">
        <div class="panel">
            <div class="controls">
                <select id="source-kind">
                    <option value="file">File</option>
                    <option value="network">Network</option>
                </select>
                <select id="source-video"></select>
                <input id="source-url" placeholder="rtsp://..." style="display:none">
                <button id="btn-start">Start</button>
                <button id="btn-stop">Stop</button>
                <button id="btn-playback">Pause</button>
                <button id="btn-cleanup">Cleanup</button>
            </div>
            <div id="stream-error" class="log ERROR"></div>
            <img class="feed" src="/stream" alt="video feed">
            <img class="chart" id="chart-model" alt="">
            <img class="chart" id="chart-system" alt="">
        </div>

        <div>
            <div class="panel">
                <h3>Detections</h3>
                <div class="controls">
                    <select id="filter-class"><option value="all">all</option></select>
                    <input id="filter-confidence" type="range" min="0" max="1" step="0.05" value="0.5">
                    <select id="filter-range">
                        <option value="1h">1h</option>
                        <option value="6h">6h</option>
                        <option value="24h" selected>24h</option>
                    </select>
                    <button id="btn-export">Export</button>
                </div>
                <table><thead><tr><th>label</th><th>conf</th><th>x</th><th>y</th></tr></thead>
                    <tbody id="detections"></tbody></table>
                <p id="history-count"></p>
            </div>
            <div class="panel">
                <h3>Logs</h3>
                <div id="logs"></div>
            </div>
        </div>
    </div>

    <script>
        const $ = (id) => document.getElementById(id);
        let paused = false;

        function filters() {
            return new URLSearchParams({
                class: $('filter-class').value,
                confidence: $('filter-confidence').value,
                range: $('filter-range').value,
            });
        }

        async function post(path, body) {
            const res = await fetch(path, {
                method: 'POST',
                headers: { 'Content-Type': 'application/json' },
                body: body ? JSON.stringify(body) : undefined,
            });
            const data = await res.json().catch(() => ({}));
            if (!res.ok) {
                $('stream-error').textContent = [data.error].concat(data.last_logs || []).join('\n');
            } else {
                $('stream-error').textContent = '';
            }
            return data;
        }

        function renderState(s) {
            $('conn-badge').textContent = s.connected ? 'Connected' : 'Disconnected';
            $('conn-badge').className = 'badge ' + (s.connected ? 'ok' : 'err');
            $('stream-badge').textContent = s.streamState + ' / ' + s.playback;

            const video = $('source-video');
            if (video.options.length !== (s.videos || []).length) {
                video.innerHTML = '';
                (s.videos || []).forEach((v) => video.add(new Option(v, v)));
            }
            const cls = $('filter-class');
            if (cls.options.length !== (s.classes || []).length + 1) {
                const selected = cls.value;
                cls.innerHTML = '<option value="all">all</option>';
                (s.classes || []).forEach((c) => cls.add(new Option(c, c)));
                cls.value = selected;
            }

            const min = parseFloat($('filter-confidence').value);
            const want = $('filter-class').value;
            $('detections').innerHTML = (s.currentDetections || [])
                .filter((d) => d.confidence >= min && (want === 'all' || d.label === want))
                .map((d) => '<tr><td>' + d.label + '</td><td>' + (d.confidence * 100).toFixed(0) +
                    '%</td><td>' + d.x.toFixed(0) + '</td><td>' + d.y.toFixed(0) + '</td></tr>')
                .join('');
            $('history-count').textContent = (s.detectionHistory || []).length + ' stored detections';

            $('logs').innerHTML = (s.logs || []).slice(-50).reverse()
                .map((l) => '<div class="log ' + l.level + '">[' + l.level + '] ' + l.message + '</div>')
                .join('');
        }

        function refreshCharts() {
            const t = Date.now();
            $('chart-model').src = '/api/charts/model.png?t=' + t;
            $('chart-system').src = '/api/charts/system.png?t=' + t;
        }

        $('source-kind').onchange = () => {
            const network = $('source-kind').value === 'network';
            $('source-url').style.display = network ? '' : 'none';
            $('source-video').style.display = network ? 'none' : '';
        };
        $('btn-start').onclick = () => {
            const kind = $('source-kind').value;
            post('/api/stream/start', kind === 'network'
                ? { kind, url: $('source-url').value }
                : { kind, path: $('source-video').value });
        };
        $('btn-stop').onclick = () => post('/api/stream/stop');
        $('btn-playback').onclick = async () => {
            paused = !paused;
            await post(paused ? '/api/playback/pause' : '/api/playback/resume');
            $('btn-playback').textContent = paused ? 'Resume' : 'Pause';
        };
        $('btn-cleanup').onclick = () => post('/api/cleanup');
        $('btn-export').onclick = () => { window.location = '/api/export?' + filters(); };

        const events = new EventSource('/api/state/stream');
        events.onmessage = (e) => renderState(JSON.parse(e.data));
        events.onerror = () => { $('conn-badge').textContent = 'Reconnecting...'; };

        refreshCharts();
        setInterval(refreshCharts, 5000);
    </script>
</body>
</html>
`
